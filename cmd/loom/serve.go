package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/loom/internal/api"
	"github.com/MikeSquared-Agency/loom/internal/config"
	"github.com/MikeSquared-Agency/loom/internal/hermes"
	"github.com/MikeSquared-Agency/loom/internal/processor"
	"github.com/MikeSquared-Agency/loom/internal/store"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	var seed uint64
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Normalize threads from NATS and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg, seed)
		},
	}
	cmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "HTTP port")
	cmd.Flags().Uint64Var(&seed, "seed", cfg.Seed, "random seed for prompt sampling (0 = clock)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, seed uint64) error {
	slog.Info("loom starting", "port", cfg.Port)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database (optional: without it episodes are only published)
	var (
		episodes processor.EpisodeStore
		archive  api.Archive
	)
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		episodes, archive = db, db
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, episodes will not be archived")
	}

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		return err
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	proc := processor.New(newRand(seed), nil, episodes, hermesClient, slog.Default())

	if err := hermesClient.Subscribe(hermes.SubjectForumsThread, proc.HandleThread); err != nil {
		return err
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, proc, archive)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	if err := hermesClient.Publish(hermes.SubjectRegistered, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("loom ready", "port", cfg.Port)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown failed", "error", err)
	}
	if err := hermesClient.Drain(); err != nil {
		slog.Warn("nats drain failed", "error", err)
	}
	slog.Info("loom stopped")
	return nil
}

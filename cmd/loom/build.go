package main

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/loom/internal/adventure"
	"github.com/MikeSquared-Agency/loom/internal/build"
	"github.com/MikeSquared-Agency/loom/internal/config"
	"github.com/MikeSquared-Agency/loom/internal/dataset"
	"github.com/MikeSquared-Agency/loom/internal/episode"
	"github.com/MikeSquared-Agency/loom/internal/forums"
	"github.com/MikeSquared-Agency/loom/internal/hermes"
	"github.com/MikeSquared-Agency/loom/internal/store"
)

// buildFlags are shared by the batch commands.
type buildFlags struct {
	output  string
	seed    uint64
	dryRun  bool
	store   bool
	publish bool
	fresh   bool
	dedup   bool
}

func (f *buildFlags) register(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVarP(&f.output, "output", "o", cfg.Output, `JSONL output file ("-" for stdout)`)
	cmd.Flags().Uint64Var(&f.seed, "seed", cfg.Seed, "random seed for prompt sampling (0 = clock)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "count episodes without writing anything")
	cmd.Flags().BoolVar(&f.store, "store", false, "also write episodes to Postgres at DATABASE_URL")
	cmd.Flags().BoolVar(&f.publish, "publish", false, "publish episodes and the run summary to NATS")
	cmd.Flags().BoolVar(&f.fresh, "fresh", false, "ignore and replace saved progress")
	cmd.Flags().BoolVar(&f.dedup, "dedup", false, "skip episodes whose turns repeat an earlier episode")
}

func newAdventureCmd(cfg *config.Config) *cobra.Command {
	var (
		flags        buildFlags
		input        string
		keepTrailing bool
	)
	cmd := &cobra.Command{
		Use:   "adventure",
		Short: "Segment a text-adventure transcript into episodes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(input); err != nil {
				return fmt.Errorf("input: %w", err)
			}
			rng := newRand(flags.seed)
			var opts []adventure.Option
			if keepTrailing {
				opts = append(opts, adventure.WithTrailingStory())
			}
			task := adventure.New(rng, slog.Default(), opts...)
			return runBuild(cmd.Context(), cfg, flags, "adventure", task.Episodes(dataset.AdventureLines(input)))
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "transcript file")
	cmd.Flags().BoolVar(&keepTrailing, "keep-trailing", false, "emit the unterminated story at end of input")
	_ = cmd.MarkFlagRequired("input")
	flags.register(cmd, cfg)
	return cmd
}

func newForumsCmd(cfg *config.Config) *cobra.Command {
	var (
		flags  buildFlags
		inputs []string
	)
	cmd := &cobra.Command{
		Use:   "forums",
		Short: "Normalize scraped forum threads into episodes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := expandInputs(inputs)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no .jsonl files found in %v", inputs)
			}
			slog.Info("forum files discovered", "files", len(paths))

			rng := newRand(flags.seed)
			normalizer := forums.NewNormalizer(rng, nil, slog.Default())
			threads := dataset.ForumThreads(slog.Default(), paths...)
			return runBuild(cmd.Context(), cfg, flags, "forums", normalizer.Episodes(threads))
		},
	}
	cmd.Flags().StringSliceVarP(&inputs, "input", "i", nil, "JSONL files or directories (repeatable)")
	_ = cmd.MarkFlagRequired("input")
	flags.register(cmd, cfg)
	return cmd
}

// expandInputs replaces directories with the .jsonl files beneath them.
func expandInputs(inputs []string) ([]string, error) {
	var paths []string
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in, err)
		}
		if !info.IsDir() {
			paths = append(paths, in)
			continue
		}
		found, err := dataset.DiscoverJSONL(in)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}
	return paths, nil
}

func runBuild(ctx context.Context, cfg *config.Config, flags buildFlags, task string, episodes iter.Seq2[episode.Episode, error]) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statePath := build.StatePath(cfg.StateDir, task)
	if flags.fresh && !flags.dryRun {
		if err := build.ResetState(statePath); err != nil {
			return err
		}
	}

	var (
		sinks  []build.Sink
		events build.Publisher
	)

	if !flags.dryRun {
		out, err := build.NewJSONLSink(flags.output)
		if err != nil {
			return err
		}
		defer func() {
			if err := out.Close(); err != nil {
				slog.Error("failed to flush output", "path", flags.output, "error", err)
			}
		}()
		sinks = append(sinks, out)
	}

	if flags.store && !flags.dryRun {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("--store needs DATABASE_URL")
		}
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		slog.Info("database connected")
		sinks = append(sinks, db)
	}

	if flags.publish {
		hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			return err
		}
		defer func() {
			if err := hc.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		}()
		slog.Info("NATS connected", "url", cfg.NatsURL)
		events = hc
		if !flags.dryRun {
			sinks = append(sinks, build.NewPublishSink(hc))
		}
	}

	runner := build.NewRunner(build.Config{
		Task:      task,
		DryRun:    flags.dryRun,
		BatchSize: cfg.BatchSize,
		StatePath: statePath,
		Dedup:     flags.dedup,
	}, sinks, events, slog.Default())

	summary, err := runner.Run(ctx, episodes)
	if summary != nil {
		fmt.Fprint(os.Stderr, build.FormatSummary(summary))
		if !flags.dryRun {
			fmt.Fprintf(os.Stderr, "State file: %s\n", statePath)
		}
	}
	return err
}

package main

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MikeSquared-Agency/loom/internal/config"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Load()

	if err := newRootCmd(&cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "loom",
		Short:         "Turn adventure transcripts and forum threads into training episodes",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// Batch commands may stream episodes to stdout.
			out := io.Writer(os.Stderr)
			if cmd.Name() == "serve" {
				out = os.Stdout
			}
			setupLogging(cfg.LogLevel, cfg.LogFile, out)
		},
	}

	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write logs to this rotating file")

	root.AddCommand(
		newAdventureCmd(cfg),
		newForumsCmd(cfg),
		newServeCmd(cfg),
	)
	return root
}

func setupLogging(level, file string, out io.Writer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if file != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

// newRand seeds from the clock when seed is 0. The chosen seed is logged so a
// run can be reproduced.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	slog.Info("random source seeded", "seed", seed)
	return rand.New(rand.NewPCG(seed, seed))
}

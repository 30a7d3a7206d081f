package build

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/loom/internal/episode"
	"github.com/MikeSquared-Agency/loom/internal/forums"
	"github.com/MikeSquared-Agency/loom/internal/hermes"
)

const defaultBatchSize = 100

// Config holds the build command configuration.
type Config struct {
	Task      string // "adventure" or "forums"
	DryRun    bool   // count episodes without writing to any sink
	BatchSize int    // episodes between state saves
	StatePath string // empty keeps state in memory
	Dedup     bool   // skip episodes whose turns repeat an earlier episode
}

// Publisher emits run events. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Runner drains an episode source into sinks, skipping episodes already
// written by an earlier run with the same state file.
type Runner struct {
	cfg    Config
	sinks  []Sink
	events Publisher
	logger *slog.Logger
}

// NewRunner creates a runner. events may be nil.
func NewRunner(cfg Config, sinks []Sink, events Publisher, logger *slog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Runner{
		cfg:    cfg,
		sinks:  sinks,
		events: events,
		logger: logger,
	}
}

// Summary reports what a run did.
type Summary struct {
	RunID      string `json:"run_id"`
	Task       string `json:"task"`
	Episodes   int    `json:"episodes"`
	Turns      int    `json:"turns"`
	ModelTurns int    `json:"model_turns"`
	Resumed    int    `json:"resumed"`
	Duplicates int    `json:"duplicates"`
	Errors     int    `json:"errors"`
	DryRun     bool   `json:"dry_run"`
}

// Run consumes episodes until the source is exhausted, ctx is cancelled, or a
// cleaning failure leaves a link in a message. Other per-episode errors are
// recorded in the state and skipped.
func (r *Runner) Run(ctx context.Context, episodes iter.Seq2[episode.Episode, error]) (*Summary, error) {
	statePath := r.cfg.StatePath
	if r.cfg.DryRun {
		statePath = ""
	}
	state, err := LoadState(statePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if state.Task != "" && r.cfg.Task != "" && state.Task != r.cfg.Task {
		return nil, fmt.Errorf("state file belongs to task %q, not %q", state.Task, r.cfg.Task)
	}
	if state.RunID == "" {
		state.RunID = uuid.NewString()
		state.Task = r.cfg.Task
	}
	runID, err := uuid.Parse(state.RunID)
	if err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}

	summary := &Summary{RunID: state.RunID, Task: r.cfg.Task, DryRun: r.cfg.DryRun}
	dedup := newDedupIndex()
	inBatch := 0

	r.logger.Info("run started",
		"run_id", state.RunID,
		"task", r.cfg.Task,
		"already_completed", len(state.Completed),
		"dry_run", r.cfg.DryRun,
	)

	for ep, err := range episodes {
		select {
		case <-ctx.Done():
			r.logger.Info("run interrupted, saving state")
			r.saveFlushed(state)
			return summary, ctx.Err()
		default:
		}

		if err != nil {
			if errors.Is(err, forums.ErrURLSurvived) {
				state.AddError(err.Error())
				r.saveFlushed(state)
				summary.Errors++
				return summary, fmt.Errorf("abort run: %w", err)
			}
			r.logger.Warn("episode failed", "error", err)
			state.AddError(err.Error())
			summary.Errors++
			continue
		}

		if state.Replayed(ep.Identifier) {
			if r.cfg.Dedup {
				dedup.Check(ep)
			}
			summary.Resumed++
			continue
		}

		if r.cfg.Dedup {
			if first, dup := dedup.Check(ep); dup {
				r.logger.Info("skipping duplicate episode", "identifier", ep.Identifier, "duplicate_of", first)
				state.Duplicates++
				summary.Duplicates++
				continue
			}
		}

		if err := ep.Validate(); err != nil {
			r.logger.Warn("invalid episode", "identifier", ep.Identifier, "error", err)
			state.AddError(fmt.Sprintf("validate %s: %v", ep.Identifier, err))
			summary.Errors++
			continue
		}

		if !r.cfg.DryRun {
			if err := r.write(ctx, runID, ep); err != nil {
				r.logger.Error("write failed", "identifier", ep.Identifier, "error", err)
				state.AddError(fmt.Sprintf("write %s: %v", ep.Identifier, err))
				summary.Errors++
				continue
			}
		}

		turns := len(ep.Turns)
		model := ep.Count(episode.KindModel)
		state.MarkProcessed(ep.Identifier)
		state.EpisodesWritten++
		state.TurnsWritten += turns
		state.ModelTurns += model
		summary.Episodes++
		summary.Turns += turns
		summary.ModelTurns += model

		r.logger.Debug("episode written",
			"identifier", ep.Identifier,
			"turns", turns,
			"model_turns", model,
		)

		inBatch++
		if inBatch >= r.cfg.BatchSize {
			r.logger.Info("batch complete, saving state",
				"episodes_in_batch", inBatch,
				"total_episodes", summary.Episodes,
			)
			// The state must never claim episodes a sink still holds in memory.
			if err := r.flush(); err != nil {
				state.AddError(err.Error())
				summary.Errors++
				return summary, fmt.Errorf("abort run: %w", err)
			}
			if err := state.Save(); err != nil {
				r.logger.Warn("failed to save state", "error", err)
			}
			inBatch = 0
		}
	}

	if err := r.flush(); err != nil {
		summary.Errors++
		return summary, fmt.Errorf("abort run: %w", err)
	}
	if err := state.Save(); err != nil {
		return summary, fmt.Errorf("save state: %w", err)
	}

	r.logger.Info("run complete",
		"run_id", summary.RunID,
		"episodes", summary.Episodes,
		"turns", summary.Turns,
		"resumed", summary.Resumed,
		"duplicates", summary.Duplicates,
		"errors", summary.Errors,
		"dry_run", summary.DryRun,
	)

	if r.events != nil {
		if err := r.events.Publish(hermes.SubjectRunCompleted, summary); err != nil {
			r.logger.Warn("failed to publish run summary", "error", err)
		}
	}

	return summary, nil
}

type flusher interface {
	Flush() error
}

func (r *Runner) flush() error {
	if r.cfg.DryRun {
		return nil
	}
	for _, s := range r.sinks {
		if f, ok := s.(flusher); ok {
			if err := f.Flush(); err != nil {
				return fmt.Errorf("flush sink: %w", err)
			}
		}
	}
	return nil
}

// saveFlushed saves state on an early exit, unless a sink cannot flush.
func (r *Runner) saveFlushed(state *RunState) {
	if err := r.flush(); err != nil {
		r.logger.Warn("not saving state", "error", err)
		return
	}
	_ = state.Save()
}

func (r *Runner) write(ctx context.Context, runID uuid.UUID, ep episode.Episode) error {
	for _, s := range r.sinks {
		if err := s.WriteEpisode(ctx, runID, ep); err != nil {
			return err
		}
	}
	return nil
}

// FormatSummary renders a summary for the terminal.
func FormatSummary(s *Summary) string {
	var sb strings.Builder
	sb.WriteString("\n=== Build Summary ===\n")
	fmt.Fprintf(&sb, "Run: %s (%s)\n", s.RunID, s.Task)
	fmt.Fprintf(&sb, "Episodes written: %d\n", s.Episodes)
	fmt.Fprintf(&sb, "Turns written: %d (%d model)\n", s.Turns, s.ModelTurns)
	if s.Resumed > 0 {
		fmt.Fprintf(&sb, "Skipped (already written): %d\n", s.Resumed)
	}
	fmt.Fprintf(&sb, "Duplicates skipped: %d\n", s.Duplicates)
	fmt.Fprintf(&sb, "Errors: %d\n", s.Errors)
	if s.DryRun {
		sb.WriteString("Mode: DRY RUN (nothing written)\n")
	}
	return sb.String()
}

// PublishSink announces each written episode on the message bus.
type PublishSink struct {
	pub Publisher
}

func NewPublishSink(pub Publisher) *PublishSink {
	return &PublishSink{pub: pub}
}

func (s *PublishSink) WriteEpisode(_ context.Context, runID uuid.UUID, ep episode.Episode) error {
	evt := hermes.EpisodeBuilt{RunID: runID.String(), Episode: ep}
	if err := s.pub.Publish(hermes.SubjectEpisodeBuilt, evt); err != nil {
		return fmt.Errorf("publish %s: %w", ep.Identifier, err)
	}
	return nil
}

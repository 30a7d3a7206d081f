package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/loom/internal/adventure"
	"github.com/MikeSquared-Agency/loom/internal/dataset"
	"github.com/MikeSquared-Agency/loom/internal/episode"
	"github.com/MikeSquared-Agency/loom/internal/forums"
	"github.com/MikeSquared-Agency/loom/internal/hermes"
)

var (
	// ErrSkipped is returned by Normalize when a thread yields no episode.
	ErrSkipped = errors.New("thread skipped")
	// ErrStore wraps a failure to persist a normalized episode.
	ErrStore = errors.New("episode store failed")
)

// EpisodeStore persists episodes. *store.Store satisfies it.
type EpisodeStore interface {
	WriteEpisode(ctx context.Context, runID uuid.UUID, ep episode.Episode) error
}

// Publisher emits events. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Stats counts what the service has handled since start.
type Stats struct {
	StartedAt time.Time `json:"started_at"`
	SessionID string    `json:"session_id"`
	Threads   int       `json:"threads"`
	Episodes  int       `json:"episodes"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Segmented int       `json:"segmented"`
}

// Processor turns threads and transcripts arriving over NATS or HTTP into
// episodes. Both pipelines share one random source, so calls are serialised.
type Processor struct {
	store  EpisodeStore
	events Publisher
	logger *slog.Logger

	mu         sync.Mutex
	normalizer *forums.Normalizer
	adventure  *adventure.Task
	sessionID  uuid.UUID
	stats      Stats
}

// New creates a processor. st and events may be nil; md nil selects the
// HTML to Markdown converter.
func New(rng *rand.Rand, md forums.Converter, st EpisodeStore, events Publisher, logger *slog.Logger) *Processor {
	p := &Processor{
		store:      st,
		events:     events,
		logger:     logger,
		normalizer: forums.NewNormalizer(rng, md, logger),
		adventure:  adventure.New(rng, logger, adventure.WithTrailingStory()),
		sessionID:  uuid.New(),
	}
	p.stats = Stats{StartedAt: time.Now().UTC(), SessionID: p.sessionID.String()}
	return p
}

// HandleThread is the NATS handler for loom.forums.thread.
func (p *Processor) HandleThread(subject string, data []byte) {
	var t forums.Thread
	if err := json.Unmarshal(data, &t); err != nil {
		p.logger.Error("failed to parse thread", "subject", subject, "error", err)
		return
	}
	if t.ContentType == "" {
		t.ContentType = forums.ContentSFW
	}

	p.logger.Info("processing thread",
		"thread_name", t.Name,
		"source_file", t.SourceFile,
		"messages", len(t.Messages),
	)

	ep, err := p.Normalize(context.Background(), t)
	switch {
	case errors.Is(err, ErrSkipped):
		p.reject(t, forums.SkipReason(t), nil)
	case errors.Is(err, ErrStore):
		p.logger.Error("failed to store episode", "thread_name", t.Name, "error", err)
		p.reject(t, "store failed", err)
	case err != nil:
		p.logger.Error("thread failed", "thread_name", t.Name, "error", err)
		p.reject(t, "cleaning failed", err)
	default:
		p.logger.Info("thread normalized", "identifier", ep.Identifier, "turns", len(ep.Turns))
	}
}

// Normalize converts one thread, stores the episode when a store is
// configured and announces it. Skipped threads return ErrSkipped.
func (p *Processor) Normalize(ctx context.Context, t forums.Thread) (*episode.Episode, error) {
	p.mu.Lock()
	p.stats.Threads++
	ep, err := p.normalizer.Normalize(t)
	switch {
	case err != nil:
		p.stats.Failed++
	case ep == nil:
		p.stats.Skipped++
	}
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, ErrSkipped
	}

	if err := p.deliver(ctx, *ep); err != nil {
		p.mu.Lock()
		p.stats.Failed++
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.stats.Episodes++
	p.mu.Unlock()
	return ep, nil
}

// Segment splits an adventure transcript into episodes. The posted text is a
// complete document, so its last story is kept. Nothing is stored.
func (p *Processor) Segment(text string) ([]episode.Episode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []episode.Episode
	for ep, err := range p.adventure.Episodes(dataset.Lines(strings.NewReader(text))) {
		if err != nil {
			return nil, fmt.Errorf("segment: %w", err)
		}
		out = append(out, ep)
	}
	p.stats.Segmented += len(out)
	return out, nil
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Processor) deliver(ctx context.Context, ep episode.Episode) error {
	if p.store != nil {
		if err := p.store.WriteEpisode(ctx, p.sessionID, ep); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrStore, ep.Identifier, err)
		}
	}
	if p.events != nil {
		evt := hermes.EpisodeBuilt{RunID: p.sessionID.String(), Episode: ep}
		if err := p.events.Publish(hermes.SubjectEpisodeBuilt, evt); err != nil {
			p.logger.Warn("failed to publish episode", "identifier", ep.Identifier, "error", err)
		}
	}
	return nil
}

func (p *Processor) reject(t forums.Thread, reason string, cause error) {
	if p.events == nil {
		return
	}
	evt := hermes.ThreadRejected{
		ThreadName: t.Name,
		SourceFile: t.SourceFile,
		Reason:     reason,
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	if err := p.events.Publish(hermes.SubjectThreadRejected, evt); err != nil {
		p.logger.Warn("failed to publish rejection", "thread_name", t.Name, "error", err)
	}
}

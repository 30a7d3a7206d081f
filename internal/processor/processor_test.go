package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/loom/internal/episode"
	"github.com/MikeSquared-Agency/loom/internal/forums"
	"github.com/MikeSquared-Agency/loom/internal/hermes"
)

var passthrough = forums.ConverterFunc(func(html string) (string, error) { return html, nil })

type memoryStore struct {
	mu       sync.Mutex
	episodes []episode.Episode
	err      error
}

func (m *memoryStore) WriteEpisode(_ context.Context, _ uuid.UUID, ep episode.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.episodes = append(m.episodes, ep)
	return nil
}

type memoryPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (m *memoryPublisher) Publish(subject string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	m.payloads = append(m.payloads, data)
	return nil
}

func newTestProcessor(st EpisodeStore, pub Publisher) *Processor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(rand.New(rand.NewPCG(7, 7)), passthrough, st, pub, logger)
}

func threadJSON(t *testing.T, th forums.Thread) []byte {
	t.Helper()
	data, err := json.Marshal(th)
	if err != nil {
		t.Fatalf("marshal thread: %v", err)
	}
	return data
}

var tavern = forums.Thread{
	Name:        "The Tavern",
	ContentType: forums.ContentSFW,
	SourceFile:  "forum-a.jsonl",
	Messages: []forums.Message{
		{Author: "Alice", Body: "Alice pushes the door open."},
		{Author: "Bob", Body: "Bob looks up from the bar."},
	},
}

func TestHandleThread_StoresAndPublishes(t *testing.T) {
	st := &memoryStore{}
	pub := &memoryPublisher{}
	p := newTestProcessor(st, pub)

	p.HandleThread(hermes.SubjectForumsThread, threadJSON(t, tavern))

	if len(st.episodes) != 1 {
		t.Fatalf("expected 1 stored episode, got %d", len(st.episodes))
	}
	ep := st.episodes[0]
	if ep.Identifier != "rp-forum-a.jsonl-The Tavern" {
		t.Errorf("identifier = %q", ep.Identifier)
	}
	if len(ep.Turns) != 3 {
		t.Errorf("expected 3 turns, got %d", len(ep.Turns))
	}

	if len(pub.subjects) != 1 || pub.subjects[0] != hermes.SubjectEpisodeBuilt {
		t.Fatalf("published = %v", pub.subjects)
	}
	evt := pub.payloads[0].(hermes.EpisodeBuilt)
	if evt.RunID != p.Stats().SessionID {
		t.Errorf("event run id %q != session id %q", evt.RunID, p.Stats().SessionID)
	}

	stats := p.Stats()
	if stats.Threads != 1 || stats.Episodes != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHandleThread_SkippedThread(t *testing.T) {
	st := &memoryStore{}
	pub := &memoryPublisher{}
	p := newTestProcessor(st, pub)

	sheet := tavern
	sheet.Name = "Character Sheets"
	p.HandleThread(hermes.SubjectForumsThread, threadJSON(t, sheet))

	if len(st.episodes) != 0 {
		t.Fatalf("skipped thread should not be stored")
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != hermes.SubjectThreadRejected {
		t.Fatalf("published = %v", pub.subjects)
	}
	evt := pub.payloads[0].(hermes.ThreadRejected)
	if evt.Reason != "thread name" || evt.Error != "" {
		t.Errorf("rejection = %+v", evt)
	}
	if p.Stats().Skipped != 1 {
		t.Errorf("stats = %+v", p.Stats())
	}
}

func TestHandleThread_CleaningFailure(t *testing.T) {
	pub := &memoryPublisher{}
	p := newTestProcessor(nil, pub)

	bad := tavern
	bad.Messages = []forums.Message{
		{Author: "A", Body: strings.Repeat("<blockquote>q</blockquote>x", 5)},
		{Author: "B", Body: "Fine."},
	}
	p.HandleThread(hermes.SubjectForumsThread, threadJSON(t, bad))

	if len(pub.subjects) != 1 || pub.subjects[0] != hermes.SubjectThreadRejected {
		t.Fatalf("published = %v", pub.subjects)
	}
	evt := pub.payloads[0].(hermes.ThreadRejected)
	if evt.Error == "" {
		t.Error("rejection should carry the cleaning error")
	}
	if p.Stats().Failed != 1 {
		t.Errorf("stats = %+v", p.Stats())
	}
}

func TestHandleThread_BadPayload(t *testing.T) {
	pub := &memoryPublisher{}
	p := newTestProcessor(nil, pub)

	p.HandleThread(hermes.SubjectForumsThread, []byte("{not json"))
	p.HandleThread(hermes.SubjectForumsThread, []byte(`{"thread_name":"x","content_type":"PG13"}`))

	if len(pub.subjects) != 0 {
		t.Errorf("bad payloads should be dropped, published %v", pub.subjects)
	}
	if p.Stats().Threads != 0 {
		t.Errorf("stats = %+v", p.Stats())
	}
}

func TestHandleThread_DefaultsContentType(t *testing.T) {
	st := &memoryStore{}
	p := newTestProcessor(st, nil)

	p.HandleThread(hermes.SubjectForumsThread, []byte(`{
		"thread_name": "Harbour",
		"source_file": "f.jsonl",
		"messages": [
			{"author": "A", "message": "Gulls cry."},
			{"author": "B", "message": "Ropes creak."}
		]
	}`))

	if len(st.episodes) != 1 {
		t.Fatalf("expected 1 stored episode, got %d", len(st.episodes))
	}
}

func TestNormalize_StoreFailure(t *testing.T) {
	st := &memoryStore{err: errors.New("connection refused")}
	p := newTestProcessor(st, nil)

	_, err := p.Normalize(context.Background(), tavern)
	if err == nil {
		t.Fatal("expected store error")
	}
	if !errors.Is(err, ErrStore) {
		t.Errorf("err = %v, want ErrStore", err)
	}
	if p.Stats().Episodes != 0 {
		t.Errorf("failed store should not count an episode")
	}
	if p.Stats().Failed != 1 {
		t.Errorf("failed = %d, want 1", p.Stats().Failed)
	}
}

func TestHandleThread_StoreFailure(t *testing.T) {
	st := &memoryStore{err: errors.New("connection refused")}
	pub := &memoryPublisher{}
	p := newTestProcessor(st, pub)

	p.HandleThread(hermes.SubjectForumsThread, threadJSON(t, tavern))

	if len(pub.subjects) != 1 || pub.subjects[0] != hermes.SubjectThreadRejected {
		t.Fatalf("published = %v", pub.subjects)
	}
	evt := pub.payloads[0].(hermes.ThreadRejected)
	if evt.Reason != "store failed" {
		t.Errorf("reason = %q, want store failed", evt.Reason)
	}
	if !strings.Contains(evt.Error, "connection refused") {
		t.Errorf("error = %q", evt.Error)
	}
	if p.Stats().Failed != 1 || p.Stats().Skipped != 0 {
		t.Errorf("stats = %+v", p.Stats())
	}
}

func TestNormalize_Skipped(t *testing.T) {
	p := newTestProcessor(nil, nil)

	short := tavern
	short.Messages = short.Messages[:1]
	_, err := p.Normalize(context.Background(), short)
	if !errors.Is(err, ErrSkipped) {
		t.Fatalf("expected ErrSkipped, got %v", err)
	}
}

func TestSegment(t *testing.T) {
	p := newTestProcessor(nil, nil)

	text := "<|startoftext|>\nYou are in a cave.\n> look\nIt is dark.\n<|endoftext|>\n<|startoftext|>\nA bridge.\n"
	eps, err := p.Segment(text)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(eps) != 3 {
		t.Fatalf("expected 3 episodes, got %d", len(eps))
	}
	for i, ep := range eps {
		if ep.Turns[0].Kind != episode.KindSystem {
			t.Errorf("episode %d should open with a system turn", i)
		}
	}
	if p.Stats().Segmented != 3 {
		t.Errorf("stats = %+v", p.Stats())
	}
}

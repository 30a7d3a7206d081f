package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunState tracks progress for resumable runs.
type RunState struct {
	RunID           string    `json:"run_id"`
	Task            string    `json:"task"`
	StartedAt       time.Time `json:"started_at"`
	LastProcessedAt time.Time `json:"last_processed_at"`
	Completed       []string  `json:"completed"`
	EpisodesWritten int       `json:"episodes_written"`
	TurnsWritten    int       `json:"turns_written"`
	ModelTurns      int       `json:"model_turns"`
	Duplicates      int       `json:"duplicates"`
	Errors          []string  `json:"errors"`

	path     string
	written  map[string]int // occurrences recorded by earlier runs
	replayed map[string]int // occurrences seen so far in this run
}

// LoadState loads run state from path, or starts a fresh one when the file
// does not exist. An empty path keeps state in memory only.
func LoadState(path string) (*RunState, error) {
	p := expandHome(path)
	fresh := &RunState{StartedAt: time.Now().UTC(), path: p}
	if p == "" {
		return fresh, nil
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return fresh, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	s.written = make(map[string]int, len(s.Completed))
	for _, id := range s.Completed {
		s.written[id]++
	}
	return &s, nil
}

// Save persists the state. It is a no-op for in-memory state.
func (s *RunState) Save() error {
	s.LastProcessedAt = time.Now().UTC()
	if s.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

// Replayed reports whether this sighting of identifier was already written by
// an earlier run. Identifiers can repeat within a corpus, so sightings are
// counted: the n-th one is replayed only when earlier runs wrote the
// identifier at least n times. Call it once per episode.
func (s *RunState) Replayed(identifier string) bool {
	if s.replayed == nil {
		s.replayed = make(map[string]int)
	}
	s.replayed[identifier]++
	return s.replayed[identifier] <= s.written[identifier]
}

// MarkProcessed records an episode as written.
func (s *RunState) MarkProcessed(identifier string) {
	s.Completed = append(s.Completed, identifier)
}

// AddError records a processing error.
func (s *RunState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// ResetState deletes the state file at path so the next run starts over.
func ResetState(path string) error {
	if err := os.Remove(expandHome(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reset state: %w", err)
	}
	return nil
}

// StatePath is the state file for task inside dir.
func StatePath(dir, task string) string {
	return filepath.Join(dir, task+"-state.json")
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

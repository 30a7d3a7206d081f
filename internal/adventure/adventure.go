// Package adventure segments text-adventure transcripts into episodes of
// alternating player commands and narration.
package adventure

import (
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/loom/internal/episode"
	"github.com/MikeSquared-Agency/loom/internal/prompts"
)

const (
	// StartOfText marks the first line of a new story in the corpus.
	StartOfText = "<|startoftext|>"
	// EndOfText sometimes trails a story. It carries no content.
	EndOfText = "<|endoftext|>"

	userPrefix = "> "

	// MinWordsPerModelTurn is the sliding-window size for narration turns.
	MinWordsPerModelTurn = 300
)

var excessNewlines = regexp.MustCompile(`\n{3,}`)

var systemPrompts = prompts.MustExpand(
	"%{This is|You are|Start|Simulate|You are to simulate|Begin} a text %{adventure|adventure game}. " +
		"%{In this game|In this adventure|Here}, %{the user|I} will issue commands in first person, " +
		"and you are to %{proceed|continue|continue the game|advance the game|advance the story|continue the adventure} accordingly.",
)

// Task turns a flat stream of corpus lines into one episode per story.
type Task struct {
	rng          *rand.Rand
	logger       *slog.Logger
	keepTrailing bool
}

// Option configures a Task.
type Option func(*Task)

// WithTrailingStory emits the story still accumulating when input ends.
// Without it that story is dropped, since a corpus dump cut mid-story has
// no closing StartOfText.
func WithTrailingStory() Option {
	return func(t *Task) { t.keepTrailing = true }
}

// New creates a Task. rng drives system prompt sampling.
func New(rng *rand.Rand, logger *slog.Logger, opts ...Option) *Task {
	t := &Task{rng: rng, logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Episodes lazily segments lines into episodes.
//
// The first StartOfText line flushes the still-empty accumulator, so the
// sequence always opens with "adventure-0" holding nothing but a system turn
// and the first real story is "adventure-1". Only a StartOfText line flushes,
// so the story still accumulating when lines run out is dropped unless the
// Task was built WithTrailingStory.
func (t *Task) Episodes(lines iter.Seq2[string, error]) iter.Seq2[episode.Episode, error] {
	return func(yield func(episode.Episode, error) bool) {
		idx := 0
		var story strings.Builder

		for line, err := range lines {
			if err != nil {
				yield(episode.Episode{}, fmt.Errorf("read line: %w", err))
				return
			}

			if !strings.HasPrefix(line, StartOfText) {
				story.WriteString(line)
				continue
			}

			if !yield(t.build(idx, story.String()), nil) {
				return
			}
			story.Reset()
			story.WriteString(line)
			idx++
		}

		if story.Len() == 0 {
			return
		}
		if !t.keepTrailing {
			t.logger.Debug("trailing story dropped", "identifier", fmt.Sprintf("adventure-%d", idx))
			return
		}
		yield(t.build(idx, story.String()), nil)
	}
}

func (t *Task) build(idx int, story string) episode.Episode {
	turns := ConvertStory(story)
	ep := episode.Episode{
		Identifier: fmt.Sprintf("adventure-%d", idx),
		Turns:      make([]episode.Turn, 0, len(turns)+1),
	}
	ep.Turns = append(ep.Turns, episode.Turn{
		Utterance: prompts.Pick(t.rng, systemPrompts),
		Kind:      episode.KindSystem,
	})
	ep.Turns = append(ep.Turns, turns...)

	t.logger.Debug("story segmented",
		"identifier", ep.Identifier,
		"user_turns", ep.Count(episode.KindUser),
		"model_turns", ep.Count(episode.KindModel),
	)
	return ep
}

// ConvertStory splits one raw story into user and model turns.
//
// Lines starting with "> " are player commands. Everything else is narration,
// accumulated until it reaches MinWordsPerModelTurn words. Narration left over
// at the end of the story is dropped.
func ConvertStory(story string) []episode.Turn {
	var turns []episode.Turn
	var current strings.Builder
	words := 0

	for _, line := range splitLines(story) {
		if strings.HasPrefix(line, userPrefix) {
			utterance := strings.TrimSpace(strings.ReplaceAll(line, userPrefix, ""))
			if utterance == "" {
				continue
			}
			turns = append(turns, episode.Turn{Utterance: utterance, Kind: episode.KindUser})
			continue
		}

		line = strings.ReplaceAll(line, StartOfText, "")
		line = strings.ReplaceAll(line, EndOfText, "")

		current.WriteString(strings.TrimSpace(line))
		current.WriteByte('\n')
		words += len(strings.Fields(line))

		if words >= MinWordsPerModelTurn {
			utterance := excessNewlines.ReplaceAllString(current.String(), "\n\n")
			turns = append(turns, episode.Turn{Utterance: utterance, Kind: episode.KindModel})
			current.Reset()
			words = 0
		}
	}

	return turns
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Package forums normalizes scraped roleplay forum threads into labeled
// episodes.
package forums

import (
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/MikeSquared-Agency/loom/internal/episode"
	"github.com/MikeSquared-Agency/loom/internal/prompts"
)

// Threads whose name contains any of these are character sheets or OOC
// boards, not roleplay.
var metaThreadMarkers = []string{
	"ooc", "o.o.c", "character sheet", "character profile",
	"character list", "character roster",
}

const minMessages = 2

// Normalizer turns threads into episodes.
type Normalizer struct {
	rng    *rand.Rand
	md     Converter
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer. A nil converter selects MarkdownConverter.
func NewNormalizer(rng *rand.Rand, md Converter, logger *slog.Logger) *Normalizer {
	if md == nil {
		md = MarkdownConverter{}
	}
	return &Normalizer{rng: rng, md: md, logger: logger}
}

// SkipReason returns why a thread yields no episode, or "" if it is usable.
func SkipReason(t Thread) string {
	name := strings.ToLower(t.Name)
	for _, marker := range metaThreadMarkers {
		if strings.Contains(name, marker) {
			return "thread name"
		}
	}
	if len(t.Messages) < minMessages {
		return "too few messages"
	}
	return ""
}

// Normalize builds the episode for a thread. It returns nil and no error when
// the thread is skipped.
func (n *Normalizer) Normalize(t Thread) (*episode.Episode, error) {
	if reason := SkipReason(t); reason != "" {
		n.logger.Debug("skipping thread", "thread", t.Name, "reason", reason)
		return nil, nil
	}

	names := newRedactor(t.Messages)

	ep := &episode.Episode{
		Identifier: t.Identifier(),
		Turns:      []episode.Turn{{Utterance: n.systemPrompt(t.ContentType), Kind: episode.KindSystem}},
	}

	for i, msg := range t.Messages {
		cleaned, err := CleanMessage(msg.Body, n.logger)
		if err != nil {
			return nil, fmt.Errorf("thread %q message %d: %w", t.Name, i, err)
		}

		// Per-message target so reply lengths vary across the dataset.
		target := minTargetWords + n.rng.IntN(maxTargetWords-minTargetWords+1)

		for _, chunk := range SplitMessage(cleaned, target, MessageDelimiter) {
			text, err := toMarkdown(n.md, chunk)
			if err != nil {
				return nil, fmt.Errorf("thread %q message %d: convert: %w", t.Name, i, err)
			}

			// Names must be substituted after conversion, since Markdown
			// escaping would otherwise split them up.
			text = names.Apply(text)

			previous := ep.Turns[len(ep.Turns)-1].Utterance
			ep.Turns = append(ep.Turns, episode.Turn{Utterance: text, Kind: Label(text, previous)})
		}
	}

	n.logger.Debug("thread normalized",
		"identifier", ep.Identifier,
		"turns", len(ep.Turns),
		"model_turns", ep.Count(episode.KindModel),
	)
	return ep, nil
}

func (n *Normalizer) systemPrompt(ct ContentType) string {
	clauses, ok := contentTypePrompts[ct]
	if !ok {
		clauses = contentTypePrompts[ContentSFW]
	}
	clause := prompts.Pick(n.rng, clauses)
	return strings.ReplaceAll(prompts.Pick(n.rng, systemPrompts), ContentTypePlaceholder, clause)
}

// Episodes lazily normalizes threads. Skipped threads produce nothing;
// a thread that fails cleaning yields its error and iteration continues.
// A source error ends iteration.
func (n *Normalizer) Episodes(threads iter.Seq2[Thread, error]) iter.Seq2[episode.Episode, error] {
	return func(yield func(episode.Episode, error) bool) {
		for t, err := range threads {
			if err != nil {
				yield(episode.Episode{}, fmt.Errorf("read thread: %w", err))
				return
			}

			ep, err := n.Normalize(t)
			if err != nil {
				if !yield(episode.Episode{Identifier: t.Identifier()}, err) {
					return
				}
				continue
			}
			if ep == nil {
				continue
			}
			if !yield(*ep, nil) {
				return
			}
		}
	}
}

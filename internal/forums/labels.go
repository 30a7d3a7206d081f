package forums

import (
	"regexp"

	"github.com/MikeSquared-Agency/loom/internal/episode"
)

// Problems in a chunk that cannot be fixed reliably. Chunks showing any of
// these stay in the episode as context but are not trained on.
var unusableSignals = []*regexp.Regexp{
	// Floating quotation mark.
	regexp.MustCompile(`\b " \b`),
	// Quotation mark or parenthesis fused with text.
	regexp.MustCompile(`\S"\S`),
	regexp.MustCompile(`\S\(`),
	regexp.MustCompile(`\)\S`),
	// Lowercase "I".
	regexp.MustCompile(`\bi('m|'ll)?\b`),
	// Markdown link.
	regexp.MustCompile(`\[.+\]\(\S+\)`),
}

var oocLine = regexp.MustCompile(`(?m)^\((OOC: ?)?.+\)$`)

// Unusable reports whether the chunk has a defect the model should not learn.
func Unusable(chunk string) bool {
	for _, re := range unusableSignals {
		if re.MatchString(chunk) {
			return true
		}
	}
	return false
}

// LooksOOC reports whether the chunk has a whole line of parenthesised
// out-of-character talk.
func LooksOOC(chunk string) bool {
	return oocLine.MatchString(chunk)
}

// Label decides whether chunk is trained on. previous is the utterance of the
// turn right before it. OOC talk is only a model turn when answering OOC talk.
func Label(chunk, previous string) episode.Kind {
	if Unusable(chunk) {
		return episode.KindUser
	}
	if LooksOOC(chunk) && !LooksOOC(previous) {
		return episode.KindUser
	}
	return episode.KindModel
}

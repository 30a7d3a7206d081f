package forums

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxCleaningPasses = 4

	// lazyImageClass wraps forum images in a <div> with lazy-loading script.
	lazyImageClass = "bbImageWrapper"
)

var (
	// ErrTooManyPasses means a message kept yielding the same tag after
	// maxCleaningPasses removals, which only happens on malformed input.
	ErrTooManyPasses = errors.New("too many tag cleaning passes")

	// ErrURLSurvived means link removal left a URL behind.
	ErrURLSurvived = errors.New("url survived link removal")
)

var (
	fusedEllipsis        = regexp.MustCompile(`\b(\.\.\.?)\b`)
	fusedUnicodeEllipsis = regexp.MustCompile(`(\S)(…)(\S)`)
	rawLink              = regexp.MustCompile(`https?://\S*(?:\s|$)`)
)

// Replacements are applied in order, each over the output of the previous.
var (
	spacedEllipses = [][2]string{
		{" .. ", "... "},
		{" ... ", "... "},
	}
	detachedPunctuation = [][2]string{
		{" . ", ". "},
		{" , ", ", "},
		{" ? ", "? "},
		{" ! ", "! "},
	}
	// Pages mislabelled as UTF-8 turn curly quotes into these sequences.
	mojibake = [][2]string{
		{"â??", "'"},
		{"â?\u009d", "'"},
		{"\u009d", " "},
	}
)

func replaceAll(s string, pairs [][2]string) string {
	for _, p := range pairs {
		s = strings.ReplaceAll(s, p[0], p[1])
	}
	return s
}

// FixStyle repairs spacing around punctuation and common encoding garbage.
func FixStyle(message string) string {
	message = replaceAll(message, spacedEllipses)
	message = fusedEllipsis.ReplaceAllString(message, "... ")
	message = replaceAll(message, detachedPunctuation)
	message = fusedUnicodeEllipsis.ReplaceAllString(message, "${1}${2} ${3}")
	return replaceAll(message, mojibake)
}

// RemoveBadHTMLTags drops quoted posts, scripts and lazy-loaded image
// wrappers from a message.
func RemoveBadHTMLTags(message string, logger *slog.Logger) (string, error) {
	cleaned, err := removeHTMLTag(message, "blockquote", logger)
	if err != nil {
		return "", err
	}
	cleaned, err = removeHTMLTag(cleaned, "script", logger)
	if err != nil {
		return "", err
	}

	// Plain <div>s are too common to strip unconditionally.
	if hasLazyImageWrapper(message) {
		cleaned, err = removeHTMLTag(cleaned, "div", logger)
		if err != nil {
			return "", err
		}
	}
	return cleaned, nil
}

func hasLazyImageWrapper(message string) bool {
	if !strings.Contains(message, lazyImageClass) {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(message))
	if err != nil {
		return true
	}
	return doc.Find("." + lazyImageClass).Length() > 0
}

// removeHTMLTag cuts every element of the given tag, from its opening tag to
// the first closing tag after it.
func removeHTMLTag(message, tag string, logger *slog.Logger) (string, error) {
	open := "<" + tag
	closing := "</" + tag + ">"
	passes := 0

	for strings.Contains(message, open) {
		if passes >= maxCleaningPasses {
			return "", fmt.Errorf("<%s>: %w", tag, ErrTooManyPasses)
		}

		start := strings.Index(message, open)
		end := strings.Index(message[start:], closing)
		if end == -1 {
			logger.Warn("unbalanced tags found, leaving as-is", "tag", tag)
			break
		}
		end += start

		message = message[:start] + message[end+len(closing):]
		passes++
	}

	return message, nil
}

// RemoveLinks strips raw URLs along with the whitespace character that ends
// them. It repeats until nothing changes, since a removal can join the text
// around it into a new URL.
func RemoveLinks(message string) string {
	for {
		out := rawLink.ReplaceAllString(message, "")
		if out == message {
			return out
		}
		message = out
	}
}

// CheckNoLinks enforces that cleaned text carries no URL.
func CheckNoLinks(message string) error {
	if strings.Contains(message, "http://") || strings.Contains(message, "https://") {
		return ErrURLSurvived
	}
	return nil
}

// CleanMessage runs the HTML-level cleanup of a message body.
func CleanMessage(body string, logger *slog.Logger) (string, error) {
	cleaned := FixStyle(body)
	cleaned, err := RemoveBadHTMLTags(cleaned, logger)
	if err != nil {
		return "", err
	}
	cleaned = RemoveLinks(cleaned)
	if err := CheckNoLinks(cleaned); err != nil {
		return "", err
	}
	return cleaned, nil
}

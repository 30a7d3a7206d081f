package forums

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type substitution struct {
	name        string
	placeholder string
}

// redactor replaces author names with {{char_N}} placeholders. One is built
// per thread and thrown away afterwards.
type redactor struct {
	subs []substitution
}

func newRedactor(messages []Message) *redactor {
	r := &redactor{}
	seen := make(map[string]bool)
	for _, m := range messages {
		if m.Author == "" || seen[m.Author] {
			continue
		}
		seen[m.Author] = true
		r.subs = append(r.subs, substitution{
			name:        m.Author,
			placeholder: fmt.Sprintf("{{char_%d}}", len(r.subs)),
		})
	}
	return r
}

// Placeholders returns the name to placeholder mapping.
func (r *redactor) Placeholders() map[string]string {
	out := make(map[string]string, len(r.subs))
	for _, s := range r.subs {
		out[s.name] = s.placeholder
	}
	return out
}

func (r *redactor) Apply(text string) string {
	for _, s := range r.subs {
		text = replaceWord(text, s.name, s.placeholder)
	}
	return text
}

// replaceWord replaces occurrences of word that sit on word boundaries at
// both ends. Matching is case-sensitive and Unicode-aware.
func replaceWord(text, word, repl string) string {
	if word == "" {
		return text
	}

	var sb strings.Builder
	last, from := 0, 0
	for {
		i := strings.Index(text[from:], word)
		if i == -1 {
			break
		}
		start := from + i
		end := start + len(word)

		if atBoundary(text[:start], text[start:]) && atBoundary(text[:end], text[end:]) {
			sb.WriteString(text[last:start])
			sb.WriteString(repl)
			last, from = end, end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		from = start + size
	}
	sb.WriteString(text[last:])
	return sb.String()
}

// atBoundary reports whether the position between before and after is a
// word boundary.
func atBoundary(before, after string) bool {
	prev, _ := utf8.DecodeLastRuneInString(before)
	next, _ := utf8.DecodeRuneInString(after)
	return isWordRune(prev, before != "") != isWordRune(next, after != "")
}

func isWordRune(r rune, ok bool) bool {
	return ok && (r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
}

package forums

import (
	"regexp"
	"strings"
	"unicode"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// Converter turns an HTML fragment into Markdown.
type Converter interface {
	Convert(html string) (string, error)
}

// ConverterFunc adapts a plain function to Converter.
type ConverterFunc func(html string) (string, error)

func (f ConverterFunc) Convert(html string) (string, error) { return f(html) }

// MarkdownConverter is the production Converter.
type MarkdownConverter struct{}

func (MarkdownConverter) Convert(html string) (string, error) {
	return htmltomarkdown.ConvertString(html)
}

var (
	// Word characters on both sides of one or two asterisks.
	fusedEmphasis = regexp.MustCompile(`([\p{L}\p{N}_])(\*{1,2})([\p{L}\p{N}_])`)
	blankRuns     = regexp.MustCompile(`\n{2,}`)
)

// stripBadLines trims trailing whitespace and drops "RE: <thread title>"
// lines, which tend to leak usernames.
func stripBadLines(markdown string) string {
	lines := strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if strings.HasPrefix(line, "RE: ") || strings.HasPrefix(line, "**RE: ") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// FixEmphasis puts back the whitespace that HTML conversion loses around bold
// and italic markers. Matches alternate between opening markers, which get a
// space before them, and closing markers, which get one after.
func FixEmphasis(s string) string {
	opening := true
	for {
		m := fusedEmphasis.FindStringSubmatchIndex(s)
		if m == nil {
			return s
		}
		at := m[6] // after the markers
		if opening {
			at = m[4] // before the markers
		}
		s = s[:at] + " " + s[at:]
		opening = !opening
	}
}

// toMarkdown converts one HTML chunk and tidies the result.
func toMarkdown(md Converter, chunk string) (string, error) {
	out, err := md.Convert(chunk)
	if err != nil {
		return "", err
	}
	out = stripBadLines(out)
	out = FixEmphasis(out)
	return blankRuns.ReplaceAllString(out, "\n\n"), nil
}

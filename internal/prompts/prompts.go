// Package prompts expands alternative-phrasing templates into concrete
// system prompts.
//
// A template such as "%{Start|Begin} a text %{adventure|adventure game}."
// expands to every combination of its alternatives. Groups may nest.
package prompts

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

// ErrUnterminated is returned when a "%{" group is never closed.
var ErrUnterminated = errors.New("unterminated alternative group")

// Expand returns every concrete string the templates can produce, in template
// order with duplicates removed.
func Expand(templates ...string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for i, tmpl := range templates {
		p := &parser{src: tmpl}
		options, err := p.sequence(false)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		for _, o := range options {
			if _, dup := seen[o]; dup {
				continue
			}
			seen[o] = struct{}{}
			out = append(out, o)
		}
	}
	return out, nil
}

// MustExpand is like Expand but panics on malformed templates. It is meant
// for package-level prompt tables.
func MustExpand(templates ...string) []string {
	out, err := Expand(templates...)
	if err != nil {
		panic(err)
	}
	return out
}

// Pick samples one option uniformly. It returns "" for an empty slice.
func Pick(rng *rand.Rand, options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[rng.IntN(len(options))]
}

type parser struct {
	src string
	pos int
}

// sequence parses literals and groups until end of input or, when nested,
// until the next top-level '|' or '}' of the enclosing group.
func (p *parser) sequence(nested bool) ([]string, error) {
	out := []string{""}
	var lit strings.Builder

	flush := func() {
		if lit.Len() == 0 {
			return
		}
		s := lit.String()
		for i := range out {
			out[i] += s
		}
		lit.Reset()
	}

	for p.pos < len(p.src) {
		if strings.HasPrefix(p.src[p.pos:], "%{") {
			flush()
			start := p.pos
			p.pos += 2
			alts, err := p.group()
			if err != nil {
				return nil, fmt.Errorf("offset %d: %w", start, err)
			}
			out = product(out, alts)
			continue
		}
		c := p.src[p.pos]
		if nested && (c == '|' || c == '}') {
			break
		}
		lit.WriteByte(c)
		p.pos++
	}
	flush()
	return out, nil
}

func (p *parser) group() ([]string, error) {
	var alts []string
	for {
		options, err := p.sequence(true)
		if err != nil {
			return nil, err
		}
		alts = append(alts, options...)

		if p.pos >= len(p.src) {
			return nil, ErrUnterminated
		}
		c := p.src[p.pos]
		p.pos++
		if c == '}' {
			return alts, nil
		}
	}
}

func product(prefixes, suffixes []string) []string {
	out := make([]string, 0, len(prefixes)*len(suffixes))
	for _, pre := range prefixes {
		for _, suf := range suffixes {
			out = append(out, pre+suf)
		}
	}
	return out
}

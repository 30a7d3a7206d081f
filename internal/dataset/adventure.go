// Package dataset reads raw corpora from disk for the episode tasks.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
)

// AdventureLines yields the lines of a text-adventure corpus, each with its
// trailing newline. The file is opened lazily and closed when iteration ends.
func AdventureLines(path string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield("", fmt.Errorf("open: %w", err))
			return
		}
		defer f.Close()

		for line, err := range Lines(f) {
			if !yield(line, err) || err != nil {
				return
			}
		}
	}
}

// Lines yields r line by line, newline included. The final line may lack one.
func Lines(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		br := bufio.NewReaderSize(r, 1024*1024)
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				if !yield(line, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("read: %w", err))
				return
			}
		}
	}
}

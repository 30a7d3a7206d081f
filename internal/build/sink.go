package build

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/loom/internal/episode"
)

// Sink receives finished episodes.
type Sink interface {
	WriteEpisode(ctx context.Context, runID uuid.UUID, ep episode.Episode) error
}

// JSONLSink writes one JSON episode per line.
type JSONLSink struct {
	w      *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLSink appends to the file at path, creating it if needed. "-" writes
// to stdout.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if path == "-" {
		return newJSONLSink(os.Stdout, nil), nil
	}
	f, err := os.OpenFile(expandHome(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	return newJSONLSink(f, f), nil
}

func newJSONLSink(w io.Writer, closer io.Closer) *JSONLSink {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &JSONLSink{w: bw, enc: enc, closer: closer}
}

func (s *JSONLSink) WriteEpisode(_ context.Context, _ uuid.UUID, ep episode.Episode) error {
	if err := s.enc.Encode(ep); err != nil {
		return fmt.Errorf("encode %s: %w", ep.Identifier, err)
	}
	return nil
}

// Flush pushes buffered episodes to the underlying writer.
func (s *JSONLSink) Flush() error {
	return s.w.Flush()
}

func (s *JSONLSink) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MikeSquared-Agency/loom/internal/forums"
)

// ForumThreads yields threads from JSONL files, one thread per line, file by
// file. Malformed lines are logged and skipped. A thread without a
// source_file gets the base name of the file it came from; one without a
// content_type is treated as SFW roleplay.
func ForumThreads(logger *slog.Logger, paths ...string) iter.Seq2[forums.Thread, error] {
	return func(yield func(forums.Thread, error) bool) {
		for _, path := range paths {
			if !readThreads(path, logger, yield) {
				return
			}
		}
	}
}

func readThreads(path string, logger *slog.Logger, yield func(forums.Thread, error) bool) bool {
	f, err := os.Open(path)
	if err != nil {
		return yield(forums.Thread{}, fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	source := filepath.Base(path)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var t forums.Thread
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			logger.Warn("skipping malformed thread", "path", path, "line", lineNo, "error", err)
			continue
		}
		if t.SourceFile == "" {
			t.SourceFile = source
		}
		if t.ContentType == "" {
			t.ContentType = forums.ContentSFW
		}

		if !yield(t, nil) {
			return false
		}
	}
	if err := scanner.Err(); err != nil {
		return yield(forums.Thread{}, fmt.Errorf("scan %s: %w", path, err))
	}
	return true
}

// DiscoverJSONL returns every .jsonl file under dir, or dir itself when it
// names a file.
func DiscoverJSONL(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return []string{dir}, nil
	}

	var files []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}

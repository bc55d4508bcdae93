// Package transcript records backend traffic to per-request JSONL files.
package transcript

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Retention is how long transcripts are kept before Open prunes them.
const Retention = 7 * 24 * time.Hour

// Writer appends entries to one request's transcript. A nil *Writer
// discards everything.
type Writer struct {
	requestID string
	logger    *slog.Logger

	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	closeOnce sync.Once
	closed    bool
	failed    bool
}

// Entry is one transcript line.
type Entry struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
}

// Open starts <dir>/<requestID>.jsonl. It returns nil when dir is empty or
// the file cannot be created; failures are logged, never returned.
func Open(dir, requestID string, logger *slog.Logger) *Writer {
	if dir == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		logger.Warn("transcript directory unavailable", "dir", dir, "error", err)
		return nil
	}
	_ = Cleanup(dir, Retention)

	name := filepath.Join(dir, sanitize(requestID)+".jsonl")
	file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		logger.Warn("transcript not written", "path", name, "error", err)
		return nil
	}
	return &Writer{
		requestID: requestID,
		logger:    logger,
		file:      file,
		writer:    bufio.NewWriter(file),
	}
}

// Record appends an entry. It is safe for concurrent use.
func (w *Writer) Record(kind string, data any) {
	if w == nil {
		return
	}
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID: w.requestID,
		Type:      kind,
		Data:      data,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.failed {
		return
	}
	line = append(line, '\n')
	if _, err := w.writer.Write(line); err != nil {
		w.failed = true
		w.logger.Warn("transcript write failed", "request_id", w.requestID, "error", err)
	}
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	var closeErr error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if err := w.writer.Flush(); err != nil {
			closeErr = err
		}
		if err := w.file.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		w.closed = true
	})
	return closeErr
}

// Cleanup removes transcripts older than maxAge.
func Cleanup(dir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}

func sanitize(id string) string {
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
	if id == "" {
		return "request"
	}
	return id
}

// Package errorlog implements the durable error_logs.txt sink named in
// spec.md §6/§7: every event the ingestor gives up retrying on is
// recorded here with enough context to replay or investigate by hand.
package errorlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one durable record: the event that failed, how many times it
// was retried, and the final error.
type Entry struct {
	Time    time.Time
	Topic   string
	Block   uint32
	Index   uint32
	Retries int
	Err     error
}

// Log is an append-only writer for error_logs.txt. Writes are
// serialized: the ingestor is single-threaded, but a future caller
// sharing this log should not have to reason about interleaved lines.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if absent) dir/error_logs.txt for appending.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("errorlog: create dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "error_logs.txt")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("errorlog: open %s: %w", path, err)
	}
	return &Log{file: f}, nil
}

// Record appends one entry. The spec's bounded-retry policy (§4.1) calls
// this once a handler has exhausted its 100 retries and the event is
// about to be skipped.
func (l *Log) Record(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("%s topic=%s block=%d index=%d retries=%d err=%q\n",
		e.Time.Format(time.RFC3339), e.Topic, e.Block, e.Index, e.Retries, e.Err)
	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("errorlog: write entry: %w", err)
	}
	return nil
}

// Close flushes and releases the underlying file.
func (l *Log) Close() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("errorlog: close: %w", err)
	}
	return nil
}

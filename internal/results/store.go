// Package results persists completed experiment records in an append-only
// JSONL log and answers queries over it.
package results

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/speedwaylabs/speedway/internal/models"
)

// FileName is the results log inside the results directory.
const FileName = "results.jsonl"

// Store is the durable log of terminal experiment records. Appends are
// serialized through one lock and flushed before returning; the file is a
// commit log, never rewritten.
type Store struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// Open creates the results directory if needed and opens the log for
// appending.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}
	path := filepath.Join(dir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening results log: %w", err)
	}
	return &Store{path: path, f: f}, nil
}

// Path returns the location of the results log.
func (s *Store) Path() string { return s.path }

// Close releases the append handle. Queries still work after Close.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Append writes one record as a single self-delimited line and syncs it to
// disk before returning. A crash mid-write can only damage the final line,
// which readers skip.
func (s *Store) Append(rec models.ResultRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return fmt.Errorf("results store is closed")
	}
	if _, err := s.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("syncing results log: %w", err)
	}
	return nil
}

// AppendWithRetry retries Append with backoff. Losing a completed result is
// worse than a brief delay, so the append gets more chances than anything
// else in the system.
func (s *Store) AppendWithRetry(rec models.ResultRecord, retries int) error {
	var err error
	delay := 100 * time.Millisecond
	for attempt := 0; attempt <= retries; attempt++ {
		if err = s.Append(rec); err == nil {
			return nil
		}
		slog.Warn("result append failed", "run_id", rec.RunID, "attempt", attempt+1, "error", err)
		time.Sleep(delay)
		delay *= 2
	}
	return fmt.Errorf("appending result for %s after %d retries: %w", rec.RunID, retries, err)
}

// All reads every parseable record from the log. Unparseable lines (for
// example a line truncated by a crash) are skipped, not fatal.
func (s *Store) All() ([]models.ResultRecord, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening results log: %w", err)
	}
	defer f.Close()

	var records []models.ResultRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec models.ResultRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			slog.Debug("skipping unparseable result line", "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("reading results log: %w", err)
	}
	return records, nil
}

// NextAttempt returns the attempt number a fresh run of specID should use:
// one more than the highest attempt already recorded.
func (s *Store) NextAttempt(specID string) (int, error) {
	records, err := s.All()
	if err != nil {
		return 0, err
	}
	highest := 0
	prefix := specID + "_"
	for _, rec := range records {
		if strings.HasPrefix(rec.RunID, prefix) && rec.Attempt > highest {
			highest = rec.Attempt
		}
	}
	return highest + 1, nil
}

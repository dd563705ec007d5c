package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stridehq/stridesync/internal/challenge"
)

// JSONQueue persists the pending list as one JSON file, fully rewritten on
// every mutation. Slower than SQLite but trivially inspectable, and it
// matches the simplest possible durable-queue contract: read at startup,
// rewrite after each change.
//
// Writes go through a temp file plus rename so a crash mid-write leaves the
// previous queue intact rather than a truncated file.
type JSONQueue struct {
	mu   sync.Mutex
	path string
}

type jsonQueueFile struct {
	Version int                      `json:"version"`
	Events  []challenge.CheckInEvent `json:"events"`
}

// NewJSONQueue creates a queue backed by the file at path. The file is
// created lazily on first append.
func NewJSONQueue(path string) *JSONQueue {
	return &JSONQueue{path: path}
}

func (q *JSONQueue) Append(ctx context.Context, ev challenge.CheckInEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	file, err := q.load()
	if err != nil {
		return err
	}
	for _, existing := range file.Events {
		if existing.ID == ev.ID {
			return nil // idempotent append
		}
	}
	file.Events = append(file.Events, ev)
	return q.save(file)
}

func (q *JSONQueue) List(ctx context.Context) ([]challenge.CheckInEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	file, err := q.load()
	if err != nil {
		return nil, err
	}
	return file.Events, nil
}

func (q *JSONQueue) Remove(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	file, err := q.load()
	if err != nil {
		return err
	}
	kept := file.Events[:0]
	for _, ev := range file.Events {
		if ev.ID != eventID {
			kept = append(kept, ev)
		}
	}
	if len(kept) == len(file.Events) {
		return nil
	}
	file.Events = kept
	return q.save(file)
}

func (q *JSONQueue) Len(ctx context.Context) (int, error) {
	events, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

func (q *JSONQueue) Close() error { return nil }

// load reads the queue file. A missing file is an empty queue.
func (q *JSONQueue) load() (*jsonQueueFile, error) {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return &jsonQueueFile{Version: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}

	var file jsonQueueFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse queue file: %w", err)
	}
	return &file, nil
}

// save rewrites the whole file atomically.
func (q *JSONQueue) save(file *jsonQueueFile) error {
	if err := os.MkdirAll(filepath.Dir(q.path), 0o700); err != nil {
		return fmt.Errorf("create queue directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize queue: %w", err)
	}

	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write queue temp file: %w", err)
	}
	if err := os.Rename(tmp, q.path); err != nil {
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}

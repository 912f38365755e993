// Package state implements the durable fetch ledger and the append-only
// failure ledger.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/listinglab/pagepull/internal/fetch"
)

// MemoryStore is an in-memory fetch.StateStore for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	order []string
	tasks map[string]fetch.PageTask
	clock fetch.Clock
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(clock fetch.Clock) *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]fetch.PageTask),
		clock: clock,
	}
}

// Initialize replaces the ledger contents with the given tasks. On
// invalid input the existing ledger is left untouched.
func (s *MemoryStore) Initialize(_ context.Context, tasks []fetch.PageTask) error {
	order := make([]string, 0, len(tasks))
	next := make(map[string]fetch.PageTask, len(tasks))
	for _, t := range tasks {
		if _, dup := next[t.URL]; dup {
			return fmt.Errorf("duplicate ledger url %q", t.URL)
		}
		t.Fetched = false
		t.FetchedAt = nil
		order = append(order, t.URL)
		next[t.URL] = t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = order
	s.tasks = next
	return nil
}

// ListUnfetched returns a snapshot of unfetched tasks in ledger order.
func (s *MemoryStore) ListUnfetched(_ context.Context) ([]fetch.PageTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fetch.PageTask
	for _, url := range s.order {
		if task := s.tasks[url]; !task.Fetched {
			out = append(out, task)
		}
	}
	return out, nil
}

// MarkFetched atomically records a successful fetch. Marking an
// already-fetched URL is a no-op.
func (s *MemoryStore) MarkFetched(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[url]
	if !ok {
		return fmt.Errorf("%w: %s", fetch.ErrTaskNotFound, url)
	}
	if task.Fetched {
		return nil
	}
	now := s.now()
	task.Fetched = true
	task.FetchedAt = &now
	s.tasks[url] = task
	return nil
}

// Snapshot returns every task in ledger order. Used by tests and the
// status API.
func (s *MemoryStore) Snapshot() []fetch.PageTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fetch.PageTask, 0, len(s.order))
	for _, url := range s.order {
		out = append(out, s.tasks[url])
	}
	return out
}

func (s *MemoryStore) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

// MemoryFailureStore collects failure records in memory for tests.
type MemoryFailureStore struct {
	mu      sync.Mutex
	records []fetch.FailureRecord
}

// NewMemoryFailureStore constructs an empty MemoryFailureStore.
func NewMemoryFailureStore() *MemoryFailureStore {
	return &MemoryFailureStore{}
}

// Append records one permanent failure.
func (s *MemoryFailureStore) Append(_ context.Context, record fetch.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of everything appended so far.
func (s *MemoryFailureStore) Records() []fetch.FailureRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fetch.FailureRecord, len(s.records))
	copy(out, s.records)
	return out
}

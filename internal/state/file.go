package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/listinglab/pagepull/internal/fetch"
)

// FileStore is a fetch.StateStore backed by a JSON ledger file. Every
// operation is serialized end-to-end, scoped to exactly one
// read-modify-write cycle, so concurrent writers never lose an update.
// Two locks are needed: the mutex excludes goroutines sharing this
// store, the sibling advisory lock file excludes other processes.
// flock(2) alone cannot do both; acquiring the same flock.Flock twice
// from one process succeeds immediately.
type FileStore struct {
	path  string
	mu    sync.Mutex
	lock  *flock.Flock
	clock fetch.Clock
}

// NewFileStore builds a FileStore for the ledger at path. The ledger
// file itself is created by Initialize.
func NewFileStore(path string, clock fetch.Clock) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &FileStore{
		path:  path,
		lock:  flock.New(path + ".lock"),
		clock: clock,
	}, nil
}

// Initialize regenerates the whole ledger from the given tasks.
func (s *FileStore) Initialize(ctx context.Context, tasks []fetch.PageTask) error {
	seen := make(map[string]struct{}, len(tasks))
	entries := make([]fetch.PageTask, 0, len(tasks))
	for _, t := range tasks {
		if _, dup := seen[t.URL]; dup {
			return fmt.Errorf("duplicate ledger url %q", t.URL)
		}
		seen[t.URL] = struct{}{}
		t.Fetched = false
		t.FetchedAt = nil
		entries = append(entries, t)
	}
	return s.withLock(ctx, func() error {
		return s.write(entries)
	})
}

// ListUnfetched reads the ledger and returns unfetched tasks in order.
func (s *FileStore) ListUnfetched(ctx context.Context) ([]fetch.PageTask, error) {
	var out []fetch.PageTask
	err := s.withLock(ctx, func() error {
		entries, err := s.read()
		if err != nil {
			return err
		}
		for _, t := range entries {
			if !t.Fetched {
				out = append(out, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkFetched performs one atomic read-modify-write of the ledger.
// Marking an already-fetched URL leaves the entry unchanged.
func (s *FileStore) MarkFetched(ctx context.Context, url string) error {
	return s.withLock(ctx, func() error {
		entries, err := s.read()
		if err != nil {
			return err
		}
		for i := range entries {
			if entries[i].URL != url {
				continue
			}
			if entries[i].Fetched {
				return nil
			}
			now := s.now()
			entries[i].Fetched = true
			entries[i].FetchedAt = &now
			return s.write(entries)
		}
		return fmt.Errorf("%w: %s", fetch.ErrTaskNotFound, url)
	})
}

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := s.lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire ledger lock: not acquired")
	}
	defer s.lock.Unlock() //nolint:errcheck // release is best-effort
	return fn()
}

func (s *FileStore) read() ([]fetch.PageTask, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", fetch.ErrStateCorrupt, s.path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", fetch.ErrStateCorrupt, s.path, err)
	}
	var entries []fetch.PageTask
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", fetch.ErrStateCorrupt, s.path, err)
	}
	return entries, nil
}

// write replaces the ledger via a temp file and rename so readers never
// observe a partial write.
func (s *FileStore) write(entries []fetch.PageTask) error {
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

func (s *FileStore) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

// FileFailureStore appends permanent failures to a JSON-array ledger
// file. Locking follows FileStore: mutex for goroutines on this store,
// advisory lock file for other processes.
type FileFailureStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileFailureStore builds a failure ledger at path, creating an empty
// one if none exists yet.
func NewFileFailureStore(path string) (*FileFailureStore, error) {
	if path == "" {
		return nil, fmt.Errorf("failure ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create failure ledger dir: %w", err)
	}
	return &FileFailureStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Append adds one record to the ledger under the locks.
func (s *FileFailureStore) Append(ctx context.Context, record fetch.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := s.lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire failure ledger lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire failure ledger lock: not acquired")
	}
	defer s.lock.Unlock() //nolint:errcheck // release is best-effort

	records, err := s.readAll()
	if err != nil {
		return err
	}
	records = append(records, record)
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode failure ledger: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write failure ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace failure ledger: %w", err)
	}
	return nil
}

// List returns every recorded failure.
func (s *FileFailureStore) List(ctx context.Context) ([]fetch.FailureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := s.lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquire failure ledger lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("acquire failure ledger lock: not acquired")
	}
	defer s.lock.Unlock() //nolint:errcheck // release is best-effort
	return s.readAll()
}

func (s *FileFailureStore) readAll() ([]fetch.FailureRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read failure ledger: %w", err)
	}
	var records []fetch.FailureRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode failure ledger: %w", err)
	}
	return records, nil
}

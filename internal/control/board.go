package control

import (
	"sort"
	"sync"
	"time"

	"github.com/listinglab/pagepull/internal/fetch"
)

// StatusBoard is the shared, eventually-consistent view of worker
// progress. Workers write their snapshot once per loop iteration; the
// orchestrator and the status API poll it. Stale reads are acceptable:
// the board is used for observability and pause-time bookkeeping, never
// for correctness.
type StatusBoard struct {
	mu      sync.RWMutex
	workers map[string]fetch.WorkerSnapshot
}

// NewStatusBoard returns an empty board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{workers: make(map[string]fetch.WorkerSnapshot)}
}

// Update publishes a worker's current state and progress index.
func (b *StatusBoard) Update(id string, state fetch.WorkerState, progress, batchSize int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workers[id] = fetch.WorkerSnapshot{
		ID:            id,
		State:         state,
		ProgressIndex: progress,
		BatchSize:     batchSize,
		UpdatedAt:     time.Now().UTC(),
	}
}

// Snapshot returns all known workers ordered by ID.
func (b *StatusBoard) Snapshot() []fetch.WorkerSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]fetch.WorkerSnapshot, 0, len(b.workers))
	for _, w := range b.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset forgets all workers. Called between orchestrator iterations.
func (b *StatusBoard) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workers = make(map[string]fetch.WorkerSnapshot)
}

// Package orchestrator partitions unfetched work across a worker pool,
// supervises the pool, and runs the challenge pause/resume protocol.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/listinglab/pagepull/internal/control"
	"github.com/listinglab/pagepull/internal/fetch"
	"github.com/listinglab/pagepull/internal/worker"
)

// Config controls pool sizing and supervision cadence.
type Config struct {
	Workers      int
	PollInterval time.Duration
	GracePeriod  time.Duration
	Worker       worker.Config
}

// Orchestrator runs iterations of query-partition-spawn-supervise until
// no unfetched work remains or shutdown is requested.
type Orchestrator struct {
	cfg      Config
	state    fetch.StateStore
	deps     worker.Deps
	resolver fetch.Resolver
	idGen    fetch.IDGenerator
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New constructs an Orchestrator. The worker deps carry the shared
// coordination primitives (gate, board) built once per run.
func New(
	cfg Config,
	state fetch.StateStore,
	deps worker.Deps,
	resolver fetch.Resolver,
	idGen fetch.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:      cfg,
		state:    state,
		deps:     deps,
		resolver: resolver,
		idGen:    idGen,
		logger:   logger,
	}
	o.sleep = deps.Sleep
	if o.sleep == nil {
		o.sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return o
}

// Run loops until the ledger has no unfetched work or the context is
// canceled. All cross-iteration state lives in the ledger, so a worker
// that aborted mid-batch simply leaves its unfetched tail for the next
// iteration.
func (o *Orchestrator) Run(ctx context.Context) error {
	prevRemaining := -1
	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil
		}

		tasks, err := o.state.ListUnfetched(ctx)
		if err != nil {
			return fmt.Errorf("list unfetched work: %w", err)
		}
		if len(tasks) == 0 {
			o.logger.Info("no unfetched work remains", zap.Int("iterations", iteration-1))
			return nil
		}
		if prevRemaining >= 0 && len(tasks) >= prevRemaining {
			// Everything left has already exhausted its retries; those
			// pages are in the failure ledger, not worth another pass.
			o.logger.Warn("stopping with permanently failed pages",
				zap.Int("remaining", len(tasks)))
			return nil
		}
		prevRemaining = len(tasks)

		batches := partition(tasks, o.cfg.Workers)
		o.logger.Info("starting iteration",
			zap.Int("iteration", iteration),
			zap.Int("unfetched", len(tasks)),
			zap.Int("batches", len(batches)),
		)

		done, err := o.spawn(ctx, batches)
		if err != nil {
			return err
		}
		if err := o.supervise(ctx, done); err != nil {
			o.awaitWithGrace(done)
			o.logger.Info("shutdown complete, ledger state preserved")
			return nil
		}
	}
}

// spawn launches one worker goroutine per batch and returns a channel
// closed when all of them have finished or aborted.
func (o *Orchestrator) spawn(ctx context.Context, batches [][]fetch.PageTask) (<-chan struct{}, error) {
	board := o.board()
	board.Reset()

	// Generate every ID before launching anything, so an ID failure
	// leaves no workers running behind the returned error.
	ids := make([]string, len(batches))
	for i := range batches {
		id, err := o.idGen.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate worker id: %w", err)
		}
		ids[i] = id
	}

	var wg sync.WaitGroup
	for i, batch := range batches {
		w := worker.New(ids[i], batch, o.deps, o.cfg.Worker, o.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done, nil
}

// supervise polls worker status until the pool drains. A raised gate
// triggers the challenge-resolution protocol. Returns the context error
// when shutdown interrupts the iteration.
func (o *Orchestrator) supervise(ctx context.Context, done <-chan struct{}) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if o.gate().Raised() {
				if err := o.resolveChallenge(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// resolveChallenge captures pause-time progress for observability, then
// blocks until a human confirms out-of-band that the verification step
// was completed. Workers are never terminated; they resume on their own
// once the gate clears.
func (o *Orchestrator) resolveChallenge(ctx context.Context) error {
	for _, snap := range o.board().Snapshot() {
		o.logger.Info("worker progress at pause",
			zap.String("worker_id", snap.ID),
			zap.String("state", string(snap.State)),
			zap.Int("progress_index", snap.ProgressIndex),
			zap.Int("batch_size", snap.BatchSize),
		)
	}
	o.logger.Warn("pool paused for human verification, awaiting confirmation")
	if err := o.resolver.AwaitResolution(ctx); err != nil {
		return err
	}
	o.gate().Clear()
	settle := fetch.RandomDuration(2*time.Second, 8*time.Second)
	o.logger.Info("challenge cleared, resuming pool", zap.Duration("settle", settle))
	return o.sleep(ctx, settle)
}

// awaitWithGrace waits for the pool to observe shutdown. Worker
// goroutines cannot be killed, so ones stuck past the grace period are
// reported and abandoned; the ledger stays valid either way.
func (o *Orchestrator) awaitWithGrace(done <-chan struct{}) {
	timer := time.NewTimer(o.cfg.GracePeriod)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		for _, snap := range o.board().Snapshot() {
			if !snap.State.Terminal() {
				o.logger.Warn("worker did not stop within grace period",
					zap.String("worker_id", snap.ID),
					zap.String("state", string(snap.State)),
					zap.Int("progress_index", snap.ProgressIndex),
				)
			}
		}
	}
}

func (o *Orchestrator) gate() *control.ChallengeGate {
	return o.deps.Gate
}

func (o *Orchestrator) board() *control.StatusBoard {
	return o.deps.Board
}

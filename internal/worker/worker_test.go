package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/listinglab/pagepull/internal/control"
	"github.com/listinglab/pagepull/internal/fetch"
	"github.com/listinglab/pagepull/internal/publish"
	"github.com/listinglab/pagepull/internal/session"
	"github.com/listinglab/pagepull/internal/state"
)

type fakeFetcher struct {
	mu    sync.Mutex
	fn    func(url string, call int) fetch.Result
	calls map[string]int
}

func newFakeFetcher(fn func(url string, call int) fetch.Result) *fakeFetcher {
	return &fakeFetcher{fn: fn, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, _ *session.Session) (fetch.Result, error) {
	if err := ctx.Err(); err != nil {
		return fetch.Result{}, err
	}
	f.mu.Lock()
	f.calls[url]++
	call := f.calls[url]
	f.mu.Unlock()
	return f.fn(url, call), nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type fakeDetector struct {
	mu sync.Mutex
	fn func(body []byte) fetch.Classification
}

func (d *fakeDetector) Classify(body []byte) fetch.Classification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn(body)
}

func (d *fakeDetector) set(fn func(body []byte) fetch.Classification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fn = fn
}

type fakeSink struct {
	mu   sync.Mutex
	docs []fetch.Document
}

func (s *fakeSink) Save(_ context.Context, doc fetch.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, doc)
	return "/sink/" + doc.Website, nil
}

func (s *fakeSink) saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func validBody() fetch.Result {
	return fetch.Result{
		Body:       []byte("<html>listings</html>"),
		StatusCode: http.StatusOK,
		Outcome:    fetch.OutcomeSuccess,
		Duration:   5 * time.Millisecond,
	}
}

func valid(body []byte) fetch.Classification {
	return fetch.Classification{Verdict: fetch.VerdictValid}
}

func noSleep(context.Context, time.Duration) error { return nil }

type fixture struct {
	deps      Deps
	store     *state.MemoryStore
	failures  *state.MemoryFailureStore
	sink      *fakeSink
	publisher *publish.MemoryPublisher
	gate      *control.ChallengeGate
	board     *control.StatusBoard
	detector  *fakeDetector
}

func newFixture(fetcher fetch.PageFetcher) *fixture {
	f := &fixture{
		store:     state.NewMemoryStore(nil),
		failures:  state.NewMemoryFailureStore(),
		sink:      &fakeSink{},
		publisher: publish.NewMemoryPublisher(),
		gate:      control.NewChallengeGate(),
		board:     control.NewStatusBoard(),
		detector:  &fakeDetector{fn: valid},
	}
	f.deps = Deps{
		Fetcher:   fetcher,
		Detector:  f.detector,
		State:     f.store,
		Failures:  f.failures,
		Sink:      f.sink,
		Publisher: f.publisher,
		Rotator: session.NewRotator(session.Config{
			RandomDuration: func(lo, _ time.Duration) time.Duration { return lo },
			RandomIntN:     func(int) int { return 0 },
		}),
		Gate:    f.gate,
		Board:   f.board,
		Clock:   &fakeClock{now: time.Unix(1000, 0).UTC()},
		Backoff: fetch.BackoffPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, JitterMin: 1, JitterMax: 1},
		Sleep:   noSleep,
	}
	return f
}

func batchOf(urls ...string) []fetch.PageTask {
	tasks := make([]fetch.PageTask, 0, len(urls))
	for i, u := range urls {
		tasks = append(tasks, fetch.PageTask{URL: u, PageIndex: i + 1})
	}
	return tasks
}

func defaultConfig() Config {
	return Config{
		Website:    "example",
		Topic:      "pages",
		MaxRetries: 3,
	}
}

func workerState(board *control.StatusBoard, id string) fetch.WorkerState {
	for _, snap := range board.Snapshot() {
		if snap.ID == id {
			return snap.State
		}
	}
	return ""
}

func TestWorker_SuccessFlow(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(func(string, int) fetch.Result { return validBody() })
	f := newFixture(fetcher)
	batch := batchOf("https://example.com/1", "https://example.com/2", "https://example.com/3")
	require.NoError(t, f.store.Initialize(context.Background(), batch))

	w := New("w-1", batch, f.deps, defaultConfig(), nil)
	w.Run(context.Background())

	require.Equal(t, fetch.WorkerFinished, workerState(f.board, "w-1"))
	require.Equal(t, 3, f.sink.saved())
	require.Len(t, f.publisher.Messages(), 3)

	unfetched, err := f.store.ListUnfetched(context.Background())
	require.NoError(t, err)
	require.Empty(t, unfetched)
	require.Empty(t, f.failures.Records())
}

func TestWorker_TransientFailureRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(func(_ string, call int) fetch.Result {
		if call < 3 {
			return fetch.Result{Outcome: fetch.OutcomeTransient}
		}
		return validBody()
	})
	f := newFixture(fetcher)
	batch := batchOf("https://example.com/1")
	require.NoError(t, f.store.Initialize(context.Background(), batch))

	w := New("w-1", batch, f.deps, defaultConfig(), nil)
	w.Run(context.Background())

	require.Equal(t, 3, fetcher.callCount("https://example.com/1"))
	require.Equal(t, 1, f.sink.saved())
	require.Empty(t, f.failures.Records())
}

func TestWorker_ExhaustedRetriesRecordsOneFailure(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(func(string, int) fetch.Result {
		return fetch.Result{Outcome: fetch.OutcomeTimeout}
	})
	f := newFixture(fetcher)
	batch := batchOf("https://example.com/1", "https://example.com/2")
	require.NoError(t, f.store.Initialize(context.Background(), batch))

	cfg := defaultConfig()
	cfg.MaxRetries = 2
	w := New("w-1", batch, f.deps, cfg, nil)
	w.Run(context.Background())

	// Both tasks fail permanently with exactly one record each, and the
	// worker still reaches the end of its batch.
	require.Equal(t, fetch.WorkerFinished, workerState(f.board, "w-1"))
	records := f.failures.Records()
	require.Len(t, records, 2)
	require.Equal(t, 1, records[0].PageNumber)
	require.Equal(t, "example", records[0].Website)
	require.Equal(t, 2, fetcher.callCount("https://example.com/1"))

	// Failed tasks stay unfetched in the ledger for a later run.
	unfetched, err := f.store.ListUnfetched(context.Background())
	require.NoError(t, err)
	require.Len(t, unfetched, 2)
}

func TestWorker_BlockedContentRetries(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(func(string, int) fetch.Result { return validBody() })
	f := newFixture(fetcher)
	calls := 0
	f.detector.set(func([]byte) fetch.Classification {
		calls++
		if calls == 1 {
			return fetch.Classification{Verdict: fetch.VerdictBlocked, Reason: "access denied"}
		}
		return fetch.Classification{Verdict: fetch.VerdictValid}
	})
	batch := batchOf("https://example.com/1")
	require.NoError(t, f.store.Initialize(context.Background(), batch))

	w := New("w-1", batch, f.deps, defaultConfig(), nil)
	w.Run(context.Background())

	require.Equal(t, 2, fetcher.callCount("https://example.com/1"))
	require.Equal(t, 1, f.sink.saved())
	require.Empty(t, f.failures.Records())
}

func TestWorker_ChallengePausesPoolAndResumes(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(func(string, int) fetch.Result { return validBody() })
	f := newFixture(fetcher)
	var mu sync.Mutex
	challenged := true
	f.detector.set(func([]byte) fetch.Classification {
		mu.Lock()
		defer mu.Unlock()
		if challenged {
			return fetch.Classification{Verdict: fetch.VerdictChallenge, Reason: "captcha"}
		}
		return fetch.Classification{Verdict: fetch.VerdictValid}
	})
	batch := batchOf("https://example.com/1", "https://example.com/2")
	require.NoError(t, f.store.Initialize(context.Background(), batch))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New("w-1", batch, f.deps, defaultConfig(), nil)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return f.gate.Raised() &&
			workerState(f.board, "w-1") == fetch.WorkerPausedForChallenge
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, f.sink.saved())

	mu.Lock()
	challenged = false
	mu.Unlock()
	f.gate.Clear()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not resume after gate cleared")
	}

	// The challenged task was re-attempted, not skipped.
	require.Equal(t, fetch.WorkerFinished, workerState(f.board, "w-1"))
	require.Equal(t, 2, f.sink.saved())
	require.Empty(t, f.failures.Records())
}

func TestWorker_ParksWhenGateAlreadyRaised(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(func(string, int) fetch.Result { return validBody() })
	f := newFixture(fetcher)
	require.True(t, f.gate.Raise())
	batch := batchOf("https://example.com/1")
	require.NoError(t, f.store.Initialize(context.Background(), batch))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New("w-1", batch, f.deps, defaultConfig(), nil)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// No fetch happens while the gate is up.
	require.Eventually(t, func() bool {
		return workerState(f.board, "w-1") == fetch.WorkerPausedForChallenge
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, fetcher.callCount("https://example.com/1"))

	f.gate.Clear()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not resume after gate cleared")
	}
	require.Equal(t, 1, f.sink.saved())
}

func TestWorker_CancellationAborts(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(func(string, int) fetch.Result { return validBody() })
	f := newFixture(fetcher)
	require.True(t, f.gate.Raise())
	batch := batchOf("https://example.com/1")
	require.NoError(t, f.store.Initialize(context.Background(), batch))

	ctx, cancel := context.WithCancel(context.Background())
	w := New("w-1", batch, f.deps, defaultConfig(), nil)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return workerState(f.board, "w-1") == fetch.WorkerPausedForChallenge
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not observe cancellation")
	}
	require.Equal(t, fetch.WorkerAborted, workerState(f.board, "w-1"))
}

func TestWorker_CorruptLedgerAbortsWithoutRetry(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(func(string, int) fetch.Result { return validBody() })
	f := newFixture(fetcher)
	batch := batchOf("https://example.com/1", "https://example.com/2")
	require.NoError(t, f.store.Initialize(context.Background(), batch))
	f.deps.State = corruptState{f.store}

	w := New("w-1", batch, f.deps, defaultConfig(), nil)
	w.Run(context.Background())

	// A corrupt ledger stops the worker on the spot: no retry of the
	// failed mark, no failure record, no further tasks.
	require.Equal(t, fetch.WorkerAborted, workerState(f.board, "w-1"))
	require.Equal(t, 1, fetcher.callCount("https://example.com/1"))
	require.Zero(t, fetcher.callCount("https://example.com/2"))
	require.Empty(t, f.failures.Records())
}

type corruptState struct {
	*state.MemoryStore
}

func (corruptState) MarkFetched(context.Context, string) error {
	return fmt.Errorf("%w: decode ledger", fetch.ErrStateCorrupt)
}

func TestWorker_PublishFailureDoesNotBlockProgress(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(func(string, int) fetch.Result { return validBody() })
	f := newFixture(fetcher)
	f.deps.Publisher = failingPublisher{}
	batch := batchOf("https://example.com/1")
	require.NoError(t, f.store.Initialize(context.Background(), batch))

	w := New("w-1", batch, f.deps, defaultConfig(), nil)
	w.Run(context.Background())

	require.Equal(t, fetch.WorkerFinished, workerState(f.board, "w-1"))
	unfetched, err := f.store.ListUnfetched(context.Background())
	require.NoError(t, err)
	require.Empty(t, unfetched)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", context.DeadlineExceeded
}

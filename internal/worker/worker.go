// Package worker implements the per-batch fetch loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/listinglab/pagepull/internal/control"
	"github.com/listinglab/pagepull/internal/fetch"
	"github.com/listinglab/pagepull/internal/metrics"
	"github.com/listinglab/pagepull/internal/session"
)

// errChallengeRaised aborts the retry loop of the current task so the
// outer loop can park on the gate without advancing past the task.
var errChallengeRaised = errors.New("challenge gate raised")

// Config controls per-batch pacing and retry behavior.
type Config struct {
	Website          string
	Topic            string
	MaxRetries       int
	MinDelay         time.Duration
	MaxDelay         time.Duration
	CooldownEvery    int
	CooldownInterval time.Duration
}

// Deps bundles the collaborators a Worker needs.
type Deps struct {
	Fetcher   fetch.PageFetcher
	Detector  fetch.Detector
	State     fetch.StateStore
	Failures  fetch.FailureStore
	Sink      fetch.ContentSink
	Publisher fetch.Publisher
	Rotator   *session.Rotator
	Gate      *control.ChallengeGate
	Board     *control.StatusBoard
	Clock     fetch.Clock
	Backoff   fetch.BackoffPolicy
	// Sleep is swapped out in tests; defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Worker drains one batch of page tasks, applying retry/backoff, session
// rotation, and the pool-wide challenge-pause protocol.
type Worker struct {
	id     string
	batch  []fetch.PageTask
	deps   Deps
	cfg    Config
	logger *zap.Logger

	sess      *session.Session
	failStr   int // consecutive failed attempts across retries
	successes int // successes since the last cooldown
}

// New constructs a Worker for one batch.
func New(id string, batch []fetch.PageTask, deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	return &Worker{
		id:     id,
		batch:  batch,
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(zap.String("worker_id", id)),
	}
}

// Run processes the batch until it is drained or the context ends.
// Shutdown and the challenge gate are observed once per loop iteration;
// an in-flight fetch is never interrupted mid-call.
func (w *Worker) Run(ctx context.Context) {
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()

	w.report(fetch.WorkerStarting, 0)
	w.sess = w.deps.Rotator.New(w.now())

	i := 0
	for i < len(w.batch) {
		if ctx.Err() != nil {
			w.abort(i)
			return
		}
		if w.deps.Gate.Raised() {
			if err := w.pauseForChallenge(ctx, i); err != nil {
				w.abort(i)
				return
			}
			continue
		}
		if w.deps.Rotator.ShouldRotate(w.sess, w.now()) {
			if err := w.rotateSession(ctx); err != nil {
				w.abort(i)
				return
			}
		}
		w.report(fetch.WorkerRunning, i)

		advanced, err := w.processTask(ctx, w.batch[i], i)
		if err != nil {
			if errors.Is(err, errChallengeRaised) {
				continue
			}
			w.abort(i)
			return
		}
		if advanced {
			i++
		}
	}

	w.report(fetch.WorkerFinished, len(w.batch))
	w.logger.Info("batch finished", zap.Int("tasks", len(w.batch)))
}

// processTask attempts one task up to MaxRetries times. It reports
// whether the loop should advance past the task; a challenge comes back
// as errChallengeRaised and any other error means the context ended or
// the ledger is corrupt, both of which stop the worker.
// The attempt counter starts over if a challenge pause interrupts the
// task, so a resumed task gets its full retry budget back.
func (w *Worker) processTask(ctx context.Context, task fetch.PageTask, index int) (bool, error) {
	for attempt := 0; attempt < w.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if w.deps.Gate.Raised() {
			return false, errChallengeRaised
		}

		w.sess.Touch()
		result, err := w.deps.Fetcher.Fetch(ctx, task.URL, w.sess)
		if err != nil {
			return false, err
		}

		cause, done, err := w.handleResult(ctx, task, index, result)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}

		w.failStr++
		if attempt == w.cfg.MaxRetries-1 {
			break
		}
		metrics.ObserveRetry(w.cfg.Website, cause)
		if w.failStr > 1 {
			if err := w.rotateSession(ctx); err != nil {
				return false, err
			}
		}
		delay := w.deps.Backoff.Delay(attempt)
		w.logger.Debug("retrying task",
			zap.String("url", task.URL),
			zap.Int("attempt", attempt+1),
			zap.String("cause", cause),
			zap.Duration("delay", delay),
		)
		if err := w.deps.Sleep(ctx, delay); err != nil {
			return false, err
		}
	}

	return true, w.recordFailure(ctx, task)
}

// handleResult classifies one attempt. It returns the retry cause when
// the attempt failed, or done=true when the task succeeded.
func (w *Worker) handleResult(
	ctx context.Context,
	task fetch.PageTask,
	index int,
	result fetch.Result,
) (cause string, done bool, err error) {
	if result.Outcome != fetch.OutcomeSuccess {
		metrics.ObservePage(w.cfg.Website, result.Outcome.String(), result.Duration)
		return result.Outcome.String(), false, nil
	}

	cls := w.deps.Detector.Classify(result.Body)
	metrics.ObservePage(w.cfg.Website, cls.Verdict.String(), result.Duration)

	switch cls.Verdict {
	case fetch.VerdictValid:
		if err := w.persist(ctx, task, result.Body); err != nil {
			w.logger.Error("persist page failed", zap.String("url", task.URL), zap.Error(err))
			if errors.Is(err, fetch.ErrStateCorrupt) {
				// A corrupt ledger is fatal for the run, never retryable.
				return "", false, err
			}
			return "persist", false, nil
		}
		w.failStr = 0
		if err := w.politePause(ctx); err != nil {
			return "", false, err
		}
		return "", true, nil

	case fetch.VerdictChallenge:
		if w.deps.Gate.Raise() {
			metrics.ObserveChallengePause()
			w.logger.Warn("challenge detected, pausing pool",
				zap.String("url", task.URL),
				zap.Int("progress_index", index),
				zap.String("phrase", cls.Reason),
			)
		}
		return "", false, errChallengeRaised

	default:
		w.logger.Debug("blocked content",
			zap.String("url", task.URL),
			zap.String("reason", cls.Reason),
		)
		return "blocked", false, nil
	}
}

func (w *Worker) persist(ctx context.Context, task fetch.PageTask, body []byte) error {
	doc := fetch.Document{
		Website:    w.cfg.Website,
		PageNumber: task.PageIndex,
		URL:        task.URL,
		Body:       body,
		FetchedAt:  w.now(),
	}
	uri, err := w.deps.Sink.Save(ctx, doc)
	if err != nil {
		return err
	}
	if err := w.deps.State.MarkFetched(ctx, task.URL); err != nil {
		return err
	}
	w.publish(ctx, task, uri)
	w.logger.Info("page fetched",
		zap.Int("page", task.PageIndex),
		zap.String("url", task.URL),
		zap.String("uri", uri),
	)
	return nil
}

func (w *Worker) publish(ctx context.Context, task fetch.PageTask, uri string) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"website":     w.cfg.Website,
		"page_number": task.PageIndex,
		"url":         task.URL,
		"content_uri": uri,
		"timestamp":   w.now().Format(time.RFC3339),
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		// Completion events are best-effort; the ledger already holds truth.
		w.logger.Warn("publish completion event failed", zap.String("url", task.URL), zap.Error(err))
	}
}

// politePause applies the randomized inter-page delay and, every
// CooldownEvery successes, a longer cooldown.
func (w *Worker) politePause(ctx context.Context) error {
	w.successes++
	if err := w.deps.Sleep(ctx, fetch.RandomDuration(w.cfg.MinDelay, w.cfg.MaxDelay)); err != nil {
		return err
	}
	if w.cfg.CooldownEvery > 0 && w.successes%w.cfg.CooldownEvery == 0 {
		cooldown := fetch.RandomDuration(w.cfg.CooldownInterval/3, w.cfg.CooldownInterval)
		w.logger.Info("cooldown", zap.Duration("duration", cooldown))
		return w.deps.Sleep(ctx, cooldown)
	}
	return nil
}

func (w *Worker) recordFailure(ctx context.Context, task fetch.PageTask) error {
	record := fetch.FailureRecord{
		PageNumber: task.PageIndex,
		URL:        task.URL,
		Timestamp:  w.now(),
		Website:    w.cfg.Website,
	}
	if err := w.deps.Failures.Append(ctx, record); err != nil {
		w.logger.Error("append failure record", zap.String("url", task.URL), zap.Error(err))
	}
	metrics.ObservePermanentFailure(w.cfg.Website)
	w.logger.Warn("task failed permanently",
		zap.Int("page", task.PageIndex),
		zap.String("url", task.URL),
		zap.Int("retries", w.cfg.MaxRetries),
	)
	w.failStr = 0
	return nil
}

func (w *Worker) pauseForChallenge(ctx context.Context, index int) error {
	w.report(fetch.WorkerPausedForChallenge, index)
	w.logger.Info("paused for challenge", zap.Int("progress_index", index))
	if err := w.deps.Gate.Wait(ctx); err != nil {
		return err
	}
	w.report(fetch.WorkerRunning, index)
	w.logger.Info("resumed after challenge", zap.Int("progress_index", index))
	return nil
}

// rotateSession discards the current identity, sleeps a randomized
// cooldown, and establishes a fresh one.
func (w *Worker) rotateSession(ctx context.Context) error {
	cooldown := w.deps.Rotator.Cooldown()
	w.logger.Info("rotating session",
		zap.String("session_id", w.sess.ID),
		zap.Int("requests", w.sess.RequestCount),
		zap.Duration("cooldown", cooldown),
	)
	if err := w.deps.Sleep(ctx, cooldown); err != nil {
		return err
	}
	w.sess = w.deps.Rotator.New(w.now())
	metrics.ObserveSessionRotation()
	return nil
}

func (w *Worker) abort(index int) {
	w.report(fetch.WorkerAborted, index)
	w.logger.Info("worker aborted", zap.Int("progress_index", index))
}

func (w *Worker) report(state fetch.WorkerState, progress int) {
	w.deps.Board.Update(w.id, state, progress, len(w.batch))
}

func (w *Worker) now() time.Time {
	if w.deps.Clock != nil {
		return w.deps.Clock.Now()
	}
	return time.Now().UTC()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

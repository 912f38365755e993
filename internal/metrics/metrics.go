// Package metrics exposes Prometheus collectors for the fetch orchestrator.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesTotal             *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	retriesTotal           *prometheus.CounterVec
	permanentFailuresTotal *prometheus.CounterVec
	sessionRotationsTotal  prometheus.Counter
	challengePausesTotal   prometheus.Counter
	activeWorkers          prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepull_pages_total",
				Help: "Pages classified per fetch attempt, labeled by site and verdict.",
			},
			[]string{"site", "verdict"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagepull_fetch_duration_seconds",
				Help:    "Histogram of single fetch attempt latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"site"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepull_retries_total",
				Help: "Retry attempts, labeled by site and outcome that triggered them.",
			},
			[]string{"site", "cause"},
		)

		permanentFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepull_permanent_failures_total",
				Help: "Tasks moved to the failure ledger after exhausting retries.",
			},
			[]string{"site"},
		)

		sessionRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagepull_session_rotations_total",
				Help: "Sessions discarded and re-established.",
			},
		)

		challengePausesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagepull_challenge_pauses_total",
				Help: "Pool-wide pauses triggered by human-verification challenges.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagepull_active_workers",
				Help: "Workers currently running a batch.",
			},
		)
	})
}

// ObservePage records one classified fetch attempt.
func ObservePage(site, verdict string, duration time.Duration) {
	if pagesTotal == nil {
		return
	}
	pagesTotal.WithLabelValues(site, verdict).Inc()
	fetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveRetry records one scheduled retry.
func ObserveRetry(site, cause string) {
	if retriesTotal == nil {
		return
	}
	retriesTotal.WithLabelValues(site, cause).Inc()
}

// ObservePermanentFailure records one task moved to the failure ledger.
func ObservePermanentFailure(site string) {
	if permanentFailuresTotal == nil {
		return
	}
	permanentFailuresTotal.WithLabelValues(site).Inc()
}

// ObserveSessionRotation records one session discard/re-establish cycle.
func ObserveSessionRotation() {
	if sessionRotationsTotal == nil {
		return
	}
	sessionRotationsTotal.Inc()
}

// ObserveChallengePause records one pool-wide challenge pause.
func ObserveChallengePause() {
	if challengePausesTotal == nil {
		return
	}
	challengePausesTotal.Inc()
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// WorkerStopped decrements the active worker gauge.
func WorkerStopped() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}

// Package fetch defines core types shared across subsystems.
package fetch

import (
	"time"
)

// PageTask is one entry of the fetch ledger.
type PageTask struct {
	URL       string     `json:"url"`
	PageIndex int        `json:"page_index"`
	Fetched   bool       `json:"isFetched"`
	FetchedAt *time.Time `json:"timestamp"`
}

// FailureRecord is appended to the failure ledger when a task exhausts
// its retries. It is independent of the task's ledger entry.
type FailureRecord struct {
	PageNumber int       `json:"pageNumber"`
	URL        string    `json:"url"`
	Timestamp  time.Time `json:"timestamp"`
	Website    string    `json:"website"`
}

// Outcome is the typed result of a single fetch attempt. Timeouts and
// transient failures are data, not errors.
type Outcome int

// Fetch attempt outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeTransient
)

// String returns the lowercase outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Result is returned by a PageFetcher implementation for one attempt.
type Result struct {
	Body       []byte
	StatusCode int
	Outcome    Outcome
	Duration   time.Duration
}

// Verdict classifies fetched content.
type Verdict int

// Content verdicts, in escalation order.
const (
	VerdictValid Verdict = iota
	VerdictBlocked
	VerdictChallenge
)

// String returns the lowercase verdict name used in logs and metrics.
func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictBlocked:
		return "blocked"
	case VerdictChallenge:
		return "challenge"
	default:
		return "unknown"
	}
}

// Classification pairs a verdict with the rule that produced it.
type Classification struct {
	Verdict Verdict
	Reason  string
}

// Document captures everything the content sink needs to persist one
// successfully fetched page.
type Document struct {
	Website    string
	PageNumber int
	URL        string
	Body       []byte
	FetchedAt  time.Time
}

// DocumentMeta is the sidecar metadata written next to each saved page.
type DocumentMeta struct {
	PageNumber    int       `json:"pageNumber"`
	URL           string    `json:"url"`
	Timestamp     time.Time `json:"timestamp"`
	ContentLength int       `json:"contentLength"`
	ContentHash   string    `json:"contentHash"`
	Website       string    `json:"website"`
}

// WorkerState is the lifecycle state of a worker, published to the
// status board once per loop iteration.
type WorkerState string

// Worker lifecycle states.
const (
	WorkerStarting           WorkerState = "starting"
	WorkerRunning            WorkerState = "running"
	WorkerPausedForChallenge WorkerState = "paused_for_challenge"
	WorkerFinished           WorkerState = "finished"
	WorkerAborted            WorkerState = "aborted"
)

// Terminal reports whether the state ends a worker's run.
func (s WorkerState) Terminal() bool {
	return s == WorkerFinished || s == WorkerAborted
}

// WorkerSnapshot is the orchestrator-side view of one worker. It is
// eventually consistent and polled, never pushed.
type WorkerSnapshot struct {
	ID            string      `json:"id"`
	State         WorkerState `json:"state"`
	ProgressIndex int         `json:"progress_index"`
	BatchSize     int         `json:"batch_size"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

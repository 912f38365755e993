package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/listinglab/pagepull/internal/session"
)

// Sentinel errors surfaced by stores and configuration loading.
var (
	// ErrStateCorrupt means the ledger is missing or unreadable. It is
	// never retryable and fails the run.
	ErrStateCorrupt = errors.New("fetch state ledger is corrupt or unreadable")

	// ErrTaskNotFound means MarkFetched was called for a URL the ledger
	// does not contain.
	ErrTaskNotFound = errors.New("task not found in ledger")

	// ErrConfigMissing means required configuration is absent.
	ErrConfigMissing = errors.New("required configuration is missing")
)

// StateStore is the durable ledger of every target page and its fetch
// status. MarkFetched must be a single atomic read-modify-write and is
// safe under arbitrary concurrent callers.
type StateStore interface {
	// Initialize replaces the ledger with one entry per task, all unfetched.
	Initialize(ctx context.Context, tasks []PageTask) error
	// ListUnfetched returns a snapshot of unfetched tasks in ledger order.
	ListUnfetched(ctx context.Context) ([]PageTask, error)
	// MarkFetched sets fetched=true for the URL. Idempotent.
	MarkFetched(ctx context.Context, url string) error
}

// FailureStore appends permanent failures to the append-only failure ledger.
type FailureStore interface {
	Append(ctx context.Context, record FailureRecord) error
}

// PageFetcher retrieves one page within a bounded time. Expected network
// conditions (timeouts, transient errors) come back as Result outcomes;
// the error return is reserved for context cancellation and misuse.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, sess *session.Session) (Result, error)
}

// Detector classifies fetched content as valid, blocked, or a
// human-verification challenge.
type Detector interface {
	Classify(body []byte) Classification
}

// ContentSink persists a successfully fetched page body plus metadata and
// returns the URI of the stored content.
type ContentSink interface {
	Save(ctx context.Context, doc Document) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for content-addressed filenames.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces worker and session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Resolver blocks until a human confirms out-of-band that the
// verification challenge has been resolved.
type Resolver interface {
	AwaitResolution(ctx context.Context) error
}

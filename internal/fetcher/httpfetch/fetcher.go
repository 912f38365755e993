// Package httpfetch implements the page fetch capability with a
// lightweight HTTP client built on gocolly.
package httpfetch

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/listinglab/pagepull/internal/fetch"
	"github.com/listinglab/pagepull/internal/session"
)

// Config controls collector behavior.
type Config struct {
	Timeout time.Duration
}

// Fetcher implements fetch.PageFetcher using a Colly collector.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
	)
	return &Fetcher{cfg: cfg, base: c}
}

// Fetch executes a single bounded GET. Timeouts and transient network
// failures come back as outcomes, never as errors; the error return is
// reserved for context cancellation.
func (f *Fetcher) Fetch(ctx context.Context, url string, sess *session.Session) (fetch.Result, error) {
	if err := ctx.Err(); err != nil {
		return fetch.Result{}, err
	}

	collector := f.base.Clone()
	collector.SetRequestTimeout(f.cfg.Timeout)
	if sess != nil && sess.UserAgent != "" {
		collector.UserAgent = sess.UserAgent
	}

	var (
		result   fetch.Result
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		if sess == nil {
			return
		}
		for key, values := range sess.Headers {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = fetch.Result{
			Body:       append([]byte(nil), r.Body...),
			StatusCode: r.StatusCode,
			Outcome:    fetch.OutcomeSuccess,
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
			result.Body = append([]byte(nil), r.Body...)
		}
		fetchErr = err
	})

	visitErr := collector.Visit(url)
	result.Duration = time.Since(start)

	if fetchErr == nil && visitErr != nil {
		fetchErr = visitErr
	}
	if fetchErr != nil {
		if ctx.Err() != nil {
			return fetch.Result{}, ctx.Err()
		}
		result.Outcome = classifyError(fetchErr)
		return result, nil
	}
	return result, nil
}

// classifyError maps transport failures onto the outcome taxonomy.
// Non-2xx statuses arrive here too; their bodies are kept so the block
// detector can still inspect them.
func classifyError(err error) fetch.Outcome {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fetch.OutcomeTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fetch.OutcomeTimeout
	}
	return fetch.OutcomeTransient
}

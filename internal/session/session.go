// Package session holds per-worker identity state and the rotation
// policy that periodically replaces it.
package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Session is the identity and connection state backing one worker's
// sequence of fetch attempts. A Session is owned exclusively by one
// worker and never shared.
type Session struct {
	ID           string
	UserAgent    string
	Headers      http.Header
	RequestCount int
	CreatedAt    time.Time
}

// Touch increments the request counter. Called once per fetch attempt.
func (s *Session) Touch() {
	if s != nil {
		s.RequestCount++
	}
}

// defaultUserAgents mirrors the pool the production scraper rotated through.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Firefox/119.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
}

// Config controls Rotator behavior.
type Config struct {
	UserAgents     []string
	ExtraHeaders   map[string]string
	RotateEveryN   int
	CooldownMin    time.Duration
	CooldownMax    time.Duration
	SessionTimeout time.Duration
	RandomDuration func(lo, hi time.Duration) time.Duration
	RandomIntN     func(n int) int
}

// Rotator mints fresh sessions and decides when the current one is stale.
type Rotator struct {
	cfg Config
}

// NewRotator builds a Rotator, filling in rotation defaults.
func NewRotator(cfg Config) *Rotator {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	if cfg.RotateEveryN <= 0 {
		cfg.RotateEveryN = 35
	}
	if cfg.CooldownMin <= 0 {
		cfg.CooldownMin = 30 * time.Second
	}
	if cfg.CooldownMax < cfg.CooldownMin {
		cfg.CooldownMax = 90 * time.Second
	}
	return &Rotator{cfg: cfg}
}

// New establishes a fresh session with a randomly chosen identity.
func (r *Rotator) New(now time.Time) *Session {
	ua := r.cfg.UserAgents[r.intn(len(r.cfg.UserAgents))]
	headers := baseHeaders()
	for k, v := range r.cfg.ExtraHeaders {
		headers.Set(k, v)
	}
	return &Session{
		ID:        uuid.NewString(),
		UserAgent: ua,
		Headers:   headers,
		CreatedAt: now,
	}
}

// ShouldRotate reports whether the session has served enough requests,
// or lived long enough, to be discarded.
func (r *Rotator) ShouldRotate(s *Session, now time.Time) bool {
	if s == nil {
		return true
	}
	// The counter can jump past the threshold when a task takes several
	// attempts, so never test for an exact multiple.
	if s.RequestCount >= r.cfg.RotateEveryN {
		return true
	}
	if r.cfg.SessionTimeout > 0 && now.Sub(s.CreatedAt) >= r.cfg.SessionTimeout {
		return true
	}
	return false
}

// Cooldown returns the randomized sleep applied between discarding a
// session and establishing the next one.
func (r *Rotator) Cooldown() time.Duration {
	if r.cfg.RandomDuration != nil {
		return r.cfg.RandomDuration(r.cfg.CooldownMin, r.cfg.CooldownMax)
	}
	return r.cfg.CooldownMin
}

func (r *Rotator) intn(n int) int {
	if n <= 1 {
		return 0
	}
	if r.cfg.RandomIntN != nil {
		return r.cfg.RandomIntN(n) % n
	}
	// uuid bytes are already random; borrow one for index selection.
	return int(uuid.New()[0]) % n
}

// baseHeaders returns the stable browser-like header block sent with
// every session.
func baseHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept-Language", "tr-TR,tr;q=0.9,en-US;q=0.8,en;q=0.7")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Pragma", "no-cache")
	h.Set("Referer", "https://www.google.com.tr/?hl=tr")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// Package control holds the shared coordination primitives passed to the
// orchestrator and every worker: the pool-wide challenge gate and the
// polled worker status board.
package control

import (
	"context"
	"sync"
)

// ChallengeGate is the pool-wide challenge signal. Any worker may raise
// it; only the orchestrator clears it, after external confirmation.
// Workers block on Wait until the gate is cleared.
type ChallengeGate struct {
	mu      sync.Mutex
	raised  bool
	cleared chan struct{}
}

// NewChallengeGate returns a lowered gate.
func NewChallengeGate() *ChallengeGate {
	return &ChallengeGate{}
}

// Raise sets the gate. It reports whether this call transitioned the
// gate from lowered to raised, so only the first raiser logs/counts it.
func (g *ChallengeGate) Raise() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.raised {
		return false
	}
	g.raised = true
	g.cleared = make(chan struct{})
	return true
}

// Raised reports whether the gate is currently up.
func (g *ChallengeGate) Raised() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.raised
}

// Wait blocks until the gate is cleared or the context ends. Returns
// immediately if the gate is not raised.
func (g *ChallengeGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.raised {
		g.mu.Unlock()
		return nil
	}
	cleared := g.cleared
	g.mu.Unlock()

	select {
	case <-cleared:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear lowers the gate and releases every waiting worker.
func (g *ChallengeGate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.raised {
		return
	}
	g.raised = false
	close(g.cleared)
	g.cleared = nil
}

package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChallengeGate_RaiseReportsTransition(t *testing.T) {
	t.Parallel()

	g := NewChallengeGate()
	require.False(t, g.Raised())
	require.True(t, g.Raise())
	require.True(t, g.Raised())

	// Only the first raiser sees the transition.
	require.False(t, g.Raise())
	require.True(t, g.Raised())
}

func TestChallengeGate_WaitReturnsWhenNotRaised(t *testing.T) {
	t.Parallel()

	g := NewChallengeGate()
	require.NoError(t, g.Wait(context.Background()))
}

func TestChallengeGate_ClearReleasesAllWaiters(t *testing.T) {
	t.Parallel()

	g := NewChallengeGate()
	require.True(t, g.Raise())

	const waiters = 5
	var wg sync.WaitGroup
	released := make(chan struct{}, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Wait(context.Background()))
			released <- struct{}{}
		}()
	}

	// Waiters must still be blocked before the clear.
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, released)

	g.Clear()
	wg.Wait()
	require.Len(t, released, waiters)
	require.False(t, g.Raised())
}

func TestChallengeGate_WaitHonorsContext(t *testing.T) {
	t.Parallel()

	g := NewChallengeGate()
	require.True(t, g.Raise())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- g.Wait(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("wait did not observe cancellation")
	}
}

func TestChallengeGate_RaiseAfterClear(t *testing.T) {
	t.Parallel()

	g := NewChallengeGate()
	require.True(t, g.Raise())
	g.Clear()
	require.True(t, g.Raise())
	require.True(t, g.Raised())
}

func TestChallengeGate_ClearWhenLoweredIsNoop(t *testing.T) {
	t.Parallel()

	g := NewChallengeGate()
	g.Clear()
	require.False(t, g.Raised())
}

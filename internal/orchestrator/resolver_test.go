package orchestrator

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStdinResolver_ReturnsOnLine(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	r := &StdinResolver{In: bytes.NewBufferString("\n"), Out: &out}
	require.NoError(t, r.AwaitResolution(context.Background()))
	require.Contains(t, out.String(), "press enter")
}

func TestStdinResolver_EOF(t *testing.T) {
	t.Parallel()

	r := &StdinResolver{In: bytes.NewBuffer(nil), Out: io.Discard}
	require.ErrorIs(t, r.AwaitResolution(context.Background()), io.EOF)
}

func TestStdinResolver_HonorsContext(t *testing.T) {
	t.Parallel()

	blocked, w := io.Pipe()
	defer w.Close()
	r := &StdinResolver{In: blocked, Out: io.Discard}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.AwaitResolution(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("resolver did not observe cancellation")
	}
}

package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// StdinResolver asks the operator to complete the verification step in
// a real browser session and press enter once the site accepts traffic
// again.
type StdinResolver struct {
	In  io.Reader
	Out io.Writer
}

// AwaitResolution blocks until a line arrives on In or the context is
// canceled. The read goroutine is abandoned on cancellation; a stale
// keypress after shutdown is harmless.
func (r *StdinResolver) AwaitResolution(ctx context.Context) error {
	fmt.Fprintln(r.Out, "Verification challenge detected. Resolve it in a browser, then press enter to resume.")

	lines := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.In)
		if scanner.Scan() {
			lines <- nil
			return
		}
		if err := scanner.Err(); err != nil {
			lines <- err
			return
		}
		lines <- io.EOF
	}()

	select {
	case err := <-lines:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

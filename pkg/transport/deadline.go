package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

type deadliner interface {
	SetDeadline(t time.Time) error
}

// bindContext makes blocking calls on d honour ctx. A context that can never be done
// leaves d untouched, so the call blocks for as long as the peer takes.
func bindContext(ctx context.Context, d deadliner) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = d.SetDeadline(deadline)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = d.SetDeadline(time.Unix(1, 0))
		case <-done:
		}
	}()
	return func() { close(done) }
}

// ioError classifies a failed read or write. Deadline expiry becomes ErrWaitTimeout,
// cancellation keeps the context error, everything else is ErrIO.
func ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w: %w", op, ErrWaitTimeout, ctxErr)
		}
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrWaitTimeout)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

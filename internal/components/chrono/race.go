package chrono

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by FirstOf when the deadline wins the race.
var ErrTimeout = errors.New("timed out")

// FirstOf runs wait and returns its result, unless timeout elapses or ctx is
// cancelled first. The context handed to wait is cancelled as soon as the race
// is decided, so wait must honor it to avoid leaking its goroutine.
func FirstOf[T any](ctx context.Context, timeout time.Duration, wait func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := wait(raceCtx)
		done <- result{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Sleep waits for d or until ctx is done, whichever is first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

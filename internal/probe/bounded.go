package probe

import (
	"context"
	"time"
)

// Outcome is the result of an operation raced against a timer. When
// TimedOut is set, Value and Err are zero and the operation is still
// running in the background.
type Outcome[T any] struct {
	Value    T
	Err      error
	TimedOut bool
	Elapsed  time.Duration
}

// Completed reports whether the operation finished before the timer.
func (o Outcome[T]) Completed() bool {
	return !o.TimedOut
}

// Within runs op and waits for it or for timeout, whichever comes first.
//
// The context passed to op is cancelled as soon as the wait ends. If the
// timer wins, a background goroutine waits for op to return and hands any
// successfully produced value to release, so a late connection is closed
// rather than leaked. release may be nil. A non-positive timeout waits for
// op or ctx only. Cancellation of ctx ends the wait with ctx.Err().
func Within[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error), release func(T)) Outcome[T] {
	type result struct {
		v   T
		err error
	}

	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		v, err := op(opCtx)
		done <- result{v: v, err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var out Outcome[T]
	select {
	case r := <-done:
		cancel()
		return Outcome[T]{Value: r.v, Err: r.err, Elapsed: time.Since(start)}
	case <-expired:
		out.TimedOut = true
	case <-ctx.Done():
		out.Err = ctx.Err()
	}
	out.Elapsed = time.Since(start)
	cancel()

	go func() {
		r := <-done
		if r.err == nil && release != nil {
			release(r.v)
		}
	}()

	return out
}

package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/aqasim81/migration-runner/internal/migerr"
)

// DefaultAbortRespite is how long an aborted run waits for an in-flight
// operation before deserting it.
const DefaultAbortRespite = 10 * time.Second

// Exec runs fn and returns its result. When ctx is or becomes done while fn
// is outstanding, onAbort is called with the abort reason and fn gets
// respite to finish. After that Exec returns an execution-deserted error
// without waiting further; fn keeps running and its result is discarded.
//
// fn receives a context that is never cancelled. A panic in fn is returned
// as an error wrapping ErrPanic.
func Exec[T any](ctx context.Context, respite time.Duration, fn func(context.Context) (T, error), onAbort func(error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	work := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: panicError(p)}
			}
		}()

		v, err := fn(work)
		done <- result{value: v, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
	}

	reason := abortReason(ctx)
	if onAbort != nil {
		onAbort(reason)
	}

	timer := time.NewTimer(respite)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.value, res.err
	case <-timer.C:
		var zero T

		return zero, migerr.ExecutionDeserted(respite, reason)
	}
}

// abortReason returns why ctx was cancelled as a command-abort error.
func abortReason(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}

	return migerr.CommandAbort(cause)
}

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("%w: %w", ErrPanic, err)
	}

	return fmt.Errorf("%w: %v", ErrPanic, p)
}

package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts bounds Retry's attempts and backoff waits.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
}

// DefaultRetry suits short transient faults, a graph mirror dropping its
// connection mid-batch being the typical case.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 50 * time.Millisecond,
	MaxWait:     2 * time.Second,
	Jitter:      true,
}

// Retry runs f until it succeeds, attempts are exhausted, or ctx is done.
// The wait doubles after each failure, from InitialWait up to MaxWait, with
// optional jitter so concurrent retriers do not stampede a recovering
// backend. The final failed Result is returned as-is.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultRetry.MaxWait
	}
	var r Result[T]
	wait := opts.InitialWait
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		r = f(ctx)
		if r.IsOk() || attempt == opts.MaxAttempts-1 {
			return r
		}
		sleep := wait
		if opts.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if sleep > opts.MaxWait {
			sleep = opts.MaxWait
		}
		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(sleep):
		}
		wait *= 2
		if wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return r
}

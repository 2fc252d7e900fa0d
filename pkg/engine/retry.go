package engine

import (
	"context"
	"time"
)

// RetryOptions configures a bounded retry loop.
type RetryOptions struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff is the delay before the first retry; it doubles after every
	// failed attempt.
	Backoff time.Duration

	// Retryable decides whether a classified error is worth another
	// attempt. Defaults to IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryOptions returns the retry settings used for
// eventual-consistency races against just-created resources.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 5,
		Backoff:     500 * time.Millisecond,
	}
}

// WithRetry runs fn up to opts.MaxAttempts times with exponential backoff,
// retrying while the classified error is retryable. Exhausting the attempts
// surfaces the last underlying error tagged with the operation name and
// attempt count.
func WithRetry(ctx context.Context, op string, opts RetryOptions, fn func(context.Context) error) error {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	retryable := opts.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	delay := opts.Backoff

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		classified := Classify(err)
		lastErr = classified
		if !retryable(classified) {
			return classified.WithOperation(op).WithDetail("attempts", attempt)
		}
		if attempt == opts.MaxAttempts {
			break
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}

	var final *EngineError
	if e, ok := lastErr.(*EngineError); ok {
		final = e
	} else {
		final = Classify(lastErr)
	}
	return final.WithOperation(op).WithDetail("attempts", opts.MaxAttempts)
}

// WithFetchRetry runs an optimistic-concurrency loop: attempt must re-fetch
// the current resource state, recompute its payload, and resubmit on every
// call. Only conflict-class errors are retried; everything else surfaces
// immediately.
func WithFetchRetry(ctx context.Context, op string, opts RetryOptions, attempt func(context.Context) error) error {
	conflictOnly := opts
	conflictOnly.Retryable = IsConflict
	return WithRetry(ctx, op, conflictOnly, attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

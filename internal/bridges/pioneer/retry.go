package pioneer

import (
	"context"
	"time"
)

// Retry defaults, matching the receiver's tolerance for reconnects.
const (
	// DefaultMaxAttempts is the number of connection attempts per operation.
	DefaultMaxAttempts = 5

	// DefaultRetryDelay is the pause between attempts.
	DefaultRetryDelay = 500 * time.Millisecond
)

// RetryPolicy bounds how often a transient failure is retried.
//
// The delay follows every failed attempt, including the last, so an
// exhausted policy blocks for MaxAttempts × Delay.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy returns the standard 5 × 500ms policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultRetryDelay,
	}
}

// attempts returns MaxAttempts clamped to at least one.
func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do calls fn until it succeeds or the policy is exhausted.
//
// Parameters:
//   - ctx: Cancels the wait between attempts
//   - fn: Operation to run; receives the 1-based attempt number
//
// Returns:
//   - int: Number of attempts made
//   - error: nil on success, the last failure on exhaustion, or the context error
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	maxAttempts := p.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return attempt, nil
		}

		if err := p.wait(ctx); err != nil {
			return attempt, err
		}
	}

	return maxAttempts, lastErr
}

// wait sleeps for Delay or until ctx is done.
func (p RetryPolicy) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(p.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

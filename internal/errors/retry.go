package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryPolicy defines retry behavior for fallible operations.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts (first try included)
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier
	Multiplier float64

	// Jitter randomizes delays to avoid thundering herd
	Jitter bool

	// RetryIf determines whether an error is retryable
	RetryIf func(error) bool
}

// DefaultPolicy returns the default retry policy for provider calls.
func DefaultPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryIf:      IsRetryable,
	}
}

// NoRetry returns a policy that never retries.
func NoRetry() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 1,
		Multiplier:  1.0,
		RetryIf:     func(error) bool { return false },
	}
}

// Do executes fn with retries according to the policy.
func Do(ctx context.Context, policy *RetryPolicy, fn func() error) error {
	if policy == nil {
		policy = DefaultPolicy()
	}

	var lastErr error
	delay := policy.InitialDelay

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if policy.RetryIf != nil && !policy.RetryIf(lastErr) {
			return lastErr
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
		if policy.Jitter && delay > 0 {
			delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
		}
	}

	return lastErr
}

// Package retry implements the bounded retry loop used for provider API
// calls. A classifier decides per failure whether to abort, back off
// exponentially, or wait out the provider's throttling cool-down.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Action is a classifier's verdict on a failed attempt.
type Action int

const (
	// Stop aborts: the provider rejected the call definitively.
	Stop Action = iota
	// Retry backs off exponentially: the failure looks transient.
	Retry
	// After waits the rate-limit cool-down before the next attempt.
	After
)

// Classify maps an operation error to the action to take.
type Classify func(err error) Action

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	RateLimitBackoff time.Duration

	// OnRetry observes every scheduled retry; optional.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// PermanentError wraps an error the classifier declared final, so
// callers can tell a rejection from exhausted attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Do runs op until it succeeds, the classifier stops it, the policy's
// attempts run out, or ctx is cancelled during a backoff.
func Do[T any](ctx context.Context, p Policy, classify Classify, op func() (T, error)) (T, error) {
	var zero T
	backoff := p.InitialBackoff

	for attempt := 1; ; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}

		switch classify(err) {
		case Stop:
			return zero, &PermanentError{Err: err}
		case After:
			backoff = p.RateLimitBackoff
		}

		if attempt >= p.MaxAttempts {
			return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, backoff)
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

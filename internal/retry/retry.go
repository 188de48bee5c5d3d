// Package retry separates retry policy data from execution: a Policy value
// describes how many attempts to make, how long to back off, and which errors
// are worth retrying; Do runs a function under that policy.
package retry

import (
	"context"
	"regexp"
	"time"

	"github.com/myrjola/callagent/internal/errors"
)

// Policy describes a retry strategy.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int
	// Backoff returns the wait before the given retry attempt (2, 3, ...).
	Backoff func(attempt int) time.Duration
	// Retryable reports whether a failed attempt should be retried.
	Retryable func(err error) bool
}

// ExponentialBackoff doubles the base delay per retry: base, 2*base, 4*base...
func ExponentialBackoff(base time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		return base << (attempt - 2)
	}
}

var transientPattern = regexp.MustCompile(`(?i)timeout|temporar|rate limit|network|econn|socket|503|502|429`)

// Transient classifies errors whose message carries a timeout, rate-limit, or
// network-level signal. Everything else is treated as terminal.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	return transientPattern.MatchString(err.Error())
}

// Do runs fn up to policy.MaxAttempts times. Before each retry it waits for
// the backoff (context-aware) and invokes onRetry with the upcoming attempt
// number so the caller can reset state and record what happened. A
// non-retryable error aborts immediately.
func Do(ctx context.Context, policy Policy, onRetry func(ctx context.Context, attempt int) error, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := policy.Backoff(attempt)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Wrap(ctx.Err(), "retry wait interrupted")
			case <-timer.C:
			}
			if onRetry != nil {
				if retryErr := onRetry(ctx, attempt); retryErr != nil {
					return retryErr
				}
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt < policy.MaxAttempts && policy.Retryable != nil && policy.Retryable(err) {
			continue
		}
		return err
	}
	return err
}

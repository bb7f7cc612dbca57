package engine

import (
	"time"

	"github.com/orchid-run/orchid/pkg/models"
)

// BackoffStrategy computes the delay before re-dispatching a failed node
// attempt. attempt is the 1-based attempt number that just failed.
type BackoffStrategy interface {
	NextDelay(policy models.RetryPolicy, attempt int) time.Duration
}

// PolicyBackoff delegates to the node's retry policy: exponential growth
// from the initial interval, jittered, capped at the maximum interval.
type PolicyBackoff struct{}

func (PolicyBackoff) NextDelay(policy models.RetryPolicy, attempt int) time.Duration {
	return policy.WithDefaults().Backoff(attempt)
}

// NoBackoff retries immediately. Used by tests to keep scenarios fast.
type NoBackoff struct{}

func (NoBackoff) NextDelay(models.RetryPolicy, int) time.Duration {
	return 0
}

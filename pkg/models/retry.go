package models

import (
	"math"
	"math/rand"
	"time"
)

// Default retry shape applied when a node spec leaves fields unset.
const (
	DefaultMaxAttempts     = 1
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 30 * time.Second
	DefaultJitterFactor    = 0.2
)

// RetryPolicy controls how many times a node is attempted and how long the
// engine waits between attempts. The default shape is exponential backoff
// with jitter, capped at MaxInterval.
type RetryPolicy struct {
	MaxAttempts     int           `json:"max_attempts"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	JitterFactor    float64       `json:"jitter_factor"`
}

// WithDefaults returns a copy with unset fields replaced by defaults.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}

	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}

	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}

	if p.JitterFactor <= 0 || p.JitterFactor >= 1 {
		p.JitterFactor = DefaultJitterFactor
	}

	return p
}

// Backoff returns the wait before re-dispatching after the given failed
// attempt (1-based). The returned duration is never negative.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	policy := p.WithDefaults()

	if attempt < 1 {
		attempt = 1
	}

	interval := float64(policy.InitialInterval) * math.Pow(2, float64(attempt-1))
	if interval > float64(policy.MaxInterval) {
		interval = float64(policy.MaxInterval)
	}

	if policy.JitterFactor > 0 {
		delta := interval * policy.JitterFactor
		interval = interval - delta + rand.Float64()*2*delta
	}

	if interval < 0 {
		interval = 0
	}

	return time.Duration(interval)
}

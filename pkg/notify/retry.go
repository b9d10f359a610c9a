package notify

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures redelivery of a failed notification
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// withDefaults fills unset fields from DefaultRetryConfig
func (c RetryConfig) withDefaults() RetryConfig {
	defaults := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.BackoffMultiplier <= 1.0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
	return c
}

// newBackOff returns a fresh unjittered exponential schedule. Each Send
// needs its own since ExponentialBackOff is not safe for concurrent use.
func (c RetryConfig) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval: c.InitialDelay,
		Multiplier:      c.BackoffMultiplier,
		MaxInterval:     c.MaxDelay,
	}
	b.Reset()
	return b
}

package event

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy governs whether and when a failed processing attempt is
// reattempted. Delays grow exponentially up to MaxDelay, with optional
// uniform random jitter added on top.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// BackoffMultiplier is applied per attempt. Default: 2.
	BackoffMultiplier float64

	// MaxDelay caps the computed delay before jitter. 0 means uncapped.
	MaxDelay time.Duration

	// JitterFactor in [0,1] adds up to JitterFactor*delay of random
	// extra delay, spreading out retry storms.
	JitterFactor float64
}

// DefaultRetryPolicy is the standard retry configuration.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:       3,
	InitialDelay:      1 * time.Second,
	BackoffMultiplier: 2.0,
	MaxDelay:          30 * time.Second,
	JitterFactor:      0.1,
}

// NoRetry disables retries: the first failure is terminal.
var NoRetry = RetryPolicy{
	MaxAttempts: 1,
}

// Allows reports whether another attempt fits the budget given the
// number of attempts already made.
func (p RetryPolicy) Allows(attempts int) bool {
	return attempts < p.MaxAttempts
}

// Delay computes the backoff before retrying after the given attempt
// number (1-based):
//
//	min(InitialDelay * BackoffMultiplier^(attempt-1), MaxDelay) + jitter
//
// where jitter is uniform in [0, JitterFactor*delay].
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterFactor > 0 {
		delay += delay * p.JitterFactor * rand.Float64()
	}

	return time.Duration(delay)
}

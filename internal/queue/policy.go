// Package queue drives the durable payload queue: one send worker drains it
// through the transport, applying the retry policy to each outcome.
package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/feedbackkit/courier/internal/transport"
)

// Default retry policy constants.
const (
	// DefaultInitialBackoff is the first pause duration after a transient failure.
	DefaultInitialBackoff = 5 * time.Second
	// DefaultMaxBackoff caps the pause duration however many failures accumulate.
	DefaultMaxBackoff = 5 * time.Minute
	// DefaultBackoffMultiplier is the growth factor between consecutive pauses.
	DefaultBackoffMultiplier = 2.0
)

// RetryPolicy decides whether a classification warrants another attempt and
// shapes the pause timer between attempts.
type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns the standard policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Multiplier:     DefaultBackoffMultiplier,
	}
}

// ShouldRetry reports whether the payload stays queued after this outcome.
// Terminal classifications never retry regardless of attempt count; transient
// ones retry indefinitely, pausing the whole pipeline between attempts.
func (p RetryPolicy) ShouldRetry(c transport.Classification, attempt int) bool {
	switch c {
	case transport.ClassRejectedTemporarily, transport.ClassNetworkFailure:
		return true
	default:
		return false
	}
}

// NewBackOff returns the pause timer state for the pipeline. Intervals grow
// monotonically up to MaxBackoff and are deterministic (no jitter). Reset it
// after a successful send.
func (p RetryPolicy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

package finagle

import (
	"time"

	internalbackoff "github.com/robbinfan/finagle/internal/backoff"
)

// BackoffStrategy selects how DefaultRetryPolicy paces attempts.
type BackoffStrategy int

const (
	// ExponentialJitter is exponential backoff with uniform jitter.
	ExponentialJitter BackoffStrategy = iota

	// DecorrelatedJitter is AWS-style decorrelated jitter, smoother under
	// sustained contention.
	DecorrelatedJitter
)

// DefaultRetryPolicy retries errors its classifier accepts, up to maxRetries
// additional attempts, pacing them with the configured backoff strategy.
// The zero classifier is IsRetryable.
type DefaultRetryPolicy struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	calculator        *internalbackoff.Calculator
	classify          func(error) bool
}

// NewDefaultRetryPolicy creates a retry policy with exponential-jitter
// pacing and the IsRetryable classifier.
func NewDefaultRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return NewDefaultRetryPolicyWithStrategy(maxRetries, initialBackoff, maxBackoff, multiplier, jitter, ExponentialJitter)
}

// NewDefaultRetryPolicyWithStrategy creates a retry policy with a specific
// backoff strategy.
func NewDefaultRetryPolicyWithStrategy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *DefaultRetryPolicy {
	policy := &DefaultRetryPolicy{
		maxRetries:        maxRetries,
		initialBackoff:    initialBackoff,
		maxBackoff:        maxBackoff,
		backoffMultiplier: multiplier,
		jitter:            jitter,
		classify:          IsRetryable,
	}

	switch strategy {
	case DecorrelatedJitter:
		policy.calculator = internalbackoff.GetDecorrelatedJitterCalculator()
	default:
		policy.calculator = internalbackoff.GetExponentialJitterCalculator()
	}

	return policy
}

// WithClassifier returns a copy of the policy using the supplied error
// classifier instead of IsRetryable.
func (p *DefaultRetryPolicy) WithClassifier(classify func(error) bool) *DefaultRetryPolicy {
	dup := *p
	dup.classify = classify
	return &dup
}

// ShouldRetry implements the RetryPolicy interface.
func (p *DefaultRetryPolicy) ShouldRetry(err error, attempt int) (time.Duration, bool) {
	if attempt >= p.maxRetries {
		return 0, false
	}
	if err == nil || !p.classify(err) {
		return 0, false
	}
	return p.calculator.Calculate(attempt, p.initialBackoff, p.maxBackoff, p.backoffMultiplier, p.jitter), true
}

// Default pacing applied by ClientBuilder.Retries.
const (
	defaultRetryInitialBackoff = 100 * time.Millisecond
	defaultRetryMaxBackoff     = 10 * time.Second
	defaultRetryMultiplier     = 2.0
	defaultRetryJitter         = 0.1
)

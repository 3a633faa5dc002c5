package services

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy defines retry behavior for failed operations
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryPolicies returns the retry policies for the operations the
// verification pipeline performs around its core. The oracle path carries its
// own retry loop inside the vision adapter; these cover storage and cache.
func DefaultRetryPolicies() map[string]*RetryPolicy {
	return map[string]*RetryPolicy{
		"verdict_insert": {
			MaxRetries:    1,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
		"feature_insert": {
			MaxRetries:    1,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
		"cache_write": {
			MaxRetries:    1,
			InitialDelay:  25 * time.Millisecond,
			MaxDelay:      1 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: false,
		},
	}
}

// Retrier executes named operations under their registered retry policies.
type Retrier struct {
	policies map[string]*RetryPolicy
	logger   *logrus.Logger
}

// NewRetrier creates a retrier. A nil policies map falls back to
// DefaultRetryPolicies.
func NewRetrier(policies map[string]*RetryPolicy, logger *logrus.Logger) *Retrier {
	if policies == nil {
		policies = DefaultRetryPolicies()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Retrier{
		policies: policies,
		logger:   logger,
	}
}

// Execute runs operation under the named policy, backing off between
// attempts. Unknown names execute once without retry.
func (r *Retrier) Execute(ctx context.Context, operationName string, operation func(context.Context) error) error {
	policy := r.policies[operationName]
	if policy == nil {
		policy = &RetryPolicy{MaxRetries: 0}
	}

	start := time.Now()
	delay := policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt + 1,
					"duration":  time.Since(start),
				}).Info("Operation recovered after retry")
			}
			return nil
		}
		lastErr = err

		if attempt == policy.MaxRetries {
			break
		}

		r.logger.WithFields(logrus.Fields{
			"operation": operationName,
			"attempt":   attempt + 1,
			"error":     err.Error(),
			"delay":     delay,
		}).Warn("Operation failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(withJitter(delay, policy)):
		}

		delay = time.Duration(float64(delay) * policy.BackoffFactor)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	if policy.MaxRetries > 0 {
		r.logger.WithFields(logrus.Fields{
			"operation": operationName,
			"attempts":  policy.MaxRetries + 1,
			"duration":  time.Since(start),
			"error":     lastErr.Error(),
		}).Error("Operation failed after all retries")
	}
	return lastErr
}

// withJitter spreads retries by up to 25% of the base delay.
func withJitter(baseDelay time.Duration, policy *RetryPolicy) time.Duration {
	if !policy.JitterEnabled || baseDelay <= 0 {
		return baseDelay
	}
	jitter := time.Duration(rand.Int63n(int64(baseDelay) / 4))
	return baseDelay + jitter
}

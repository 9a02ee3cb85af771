// Package retry implements the attempt-bounded retry loop used by the
// synchronous provider adapter: exponential backoff with jitter when the
// upstream signals rate limiting or overload, a short fixed delay otherwise.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/pixelforge/pixelforge/types"
)

// Policy configures a Retryer.
type Policy struct {
	MaxRetries int           // additional attempts beyond the first
	FixedDelay time.Duration // delay for ordinary transient errors
	BaseDelay  time.Duration // first backoff step for overload errors
	MaxDelay   time.Duration // backoff ceiling
	Jitter     bool
	OnRetry    func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns a policy suitable for slow synchronous endpoints.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries: 3,
		FixedDelay: 500 * time.Millisecond,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
}

// Retryer executes a function with the configured retry policy.
type Retryer struct {
	policy *Policy
	logger *zap.Logger
}

// New creates a Retryer. Nil arguments fall back to defaults.
func New(policy *Policy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.FixedDelay <= 0 {
		policy.FixedDelay = 500 * time.Millisecond
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{policy: policy, logger: logger}
}

// Do runs fn until it succeeds or the attempt budget is exhausted, in which
// case the last observed error is returned. Every error is retried; only the
// delay between attempts depends on the error class.
func (r *Retryer) Do(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delayFor(attempt, lastErr)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return nil
		}
		if !types.IsRetryable(lastErr) {
			return lastErr
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return lastErr
}

// delayFor picks the wait before the given attempt. Overload and rate-limit
// errors back off exponentially; everything else waits the fixed delay.
func (r *Retryer) delayFor(attempt int, err error) time.Duration {
	if !Overloaded(err) {
		return r.policy.FixedDelay
	}

	delay := float64(r.policy.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(r.policy.BaseDelay) {
		delay = float64(r.policy.BaseDelay)
	}
	return time.Duration(delay)
}

// Overloaded reports whether the error indicates upstream rate limiting or
// overload, the class that deserves exponential backoff.
func Overloaded(err error) bool {
	switch types.GetErrorCode(err) {
	case types.ErrRateLimited, types.ErrProviderOverloaded:
		return true
	}
	return false
}

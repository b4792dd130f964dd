// retry.go - Retry policy for provider calls

package ai

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy decides whether and when a failed provider call is repeated.
type RetryPolicy interface {
	ShouldRetry(err error) bool
	Backoff(attempt int) time.Duration
	MaxAttempts() int
}

// ExponentialJitter retries transient errors with exponential backoff. Each
// delay is half of the exponential step plus a random share of the other half.
type ExponentialJitter struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy provides sensible defaults for retry behavior
func DefaultRetryPolicy() *ExponentialJitter {
	return &ExponentialJitter{
		Attempts:     3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// NewRetryPolicy builds a policy from configured limits, keeping defaults for
// zero values.
func NewRetryPolicy(attempts int, initial, maxDelay time.Duration) *ExponentialJitter {
	p := DefaultRetryPolicy()
	if attempts > 0 {
		p.Attempts = attempts
	}
	if initial > 0 {
		p.InitialDelay = initial
	}
	if maxDelay > 0 {
		p.MaxDelay = maxDelay
	}
	return p
}

func (p *ExponentialJitter) ShouldRetry(err error) bool {
	return IsTransient(err)
}

func (p *ExponentialJitter) MaxAttempts() int {
	return p.Attempts
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p *ExponentialJitter) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := delay / 2
	return time.Duration(half + rand.Float64()*half)
}

type noRetry struct{}

func (noRetry) ShouldRetry(error) bool { return false }
func (noRetry) Backoff(int) time.Duration { return 0 }
func (noRetry) MaxAttempts() int { return 1 }

// NoRetry runs every call exactly once.
var NoRetry RetryPolicy = noRetry{}

// Do runs fn until it succeeds, the policy gives up or ctx is done. Rate
// limit failures wait twice the policy's backoff.
func Do(ctx context.Context, policy RetryPolicy, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	if policy == nil {
		policy = NoRetry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := policy.MaxAttempts()
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("retry succeeded", zap.String("op", op), zap.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		if !policy.ShouldRetry(err) {
			return err
		}
		if attempt >= attempts {
			break
		}

		delay := policy.Backoff(attempt)
		if IsRateLimit(err) {
			delay *= 2
		}
		logger.Warn("provider call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: canceled during retry wait: %w", op, ctx.Err())
		case <-timer.C:
		}
	}

	logger.Error("all attempts failed", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(lastErr))
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}

// DoValue is Do for calls that produce a result.
func DoValue[T any](ctx context.Context, policy RetryPolicy, logger *zap.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, policy, logger, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

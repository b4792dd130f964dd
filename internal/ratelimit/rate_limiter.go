// rate_limiter.go - Rate limiting to stay under provider request quotas

package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every caller of one provider.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter allows requestsPerMinute requests with bursts of up to burst.
// A non-positive rate disables limiting.
func NewLimiter(requestsPerMinute, burst int) *Limiter {
	if requestsPerMinute <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	every := time.Minute / time.Duration(requestsPerMinute)
	return &Limiter{limiter: rate.NewLimiter(rate.Every(every), burst)}
}

// Unlimited never blocks.
func Unlimited() *Limiter {
	return NewLimiter(0, 0)
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

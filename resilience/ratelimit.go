package resilience

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the limiter can never grant a token.
var ErrRateLimited = errors.New("rate limit cannot be satisfied")

// RateLimiterConfig configures a token bucket.
type RateLimiterConfig struct {
	// Rate is the number of operations allowed per second.
	Rate float64 `yaml:"rate" mapstructure:"rate" validate:"gt=0"`
	// Burst is the bucket size. Zero means max(1, Rate).
	Burst int `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
}

// RateLimiter is a token bucket shared by concurrent callers.
type RateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewRateLimiter creates a full bucket for cfg.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(1, int(cfg.Rate))
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), burst),
		now:     time.Now,
	}
}

// Allow takes a token if one is available.
func (l *RateLimiter) Allow() bool {
	return l.limiter.AllowN(l.now(), 1)
}

// Wait takes a token, blocking until one is available or ctx is done.
// A canceled wait gives its token back and returns ctx.Err().
func (l *RateLimiter) Wait(ctx context.Context) error {
	r := l.limiter.ReserveN(l.now(), 1)
	if !r.OK() {
		return ErrRateLimited
	}
	delay := r.DelayFrom(l.now())
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.CancelAt(l.now())
		return ctx.Err()
	}
}

// Tokens returns the tokens currently available; negative while callers wait.
func (l *RateLimiter) Tokens() float64 {
	return l.limiter.TokensAt(l.now())
}

// Burst returns the bucket size.
func (l *RateLimiter) Burst() int {
	return l.limiter.Burst()
}

// Package ratelimit implements a per-platform token bucket politeness policy.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arkivist/mediavault/internal/metrics"
)

// Limiter manages per-platform rate limits. Platforms it has never seen get
// a fresh bucket with the default rate, so one hot platform cannot starve
// downloads from another.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Acquire blocks until a token is available for the given platform,
// respecting the context. Delays above a millisecond are recorded so
// operators can see how much politeness throttling costs.
func (l *Limiter) Acquire(ctx context.Context, platform string) error {
	platform = metrics.SanitizePlatform(platform)

	l.mu.Lock()
	limiter, exists := l.limiters[platform]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[platform] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(platform, delay)
	}
	return nil
}

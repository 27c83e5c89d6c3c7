// Package ratelimit paces site starts with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out site starts so that at most Burst sites begin within
// any Interval.
type Pacer struct {
	limiter *rate.Limiter
}

// Config holds pacer configuration. A non-positive Interval disables pacing.
type Config struct {
	Interval time.Duration
	Burst    int
}

// New creates a new Pacer.
func New(cfg Config) *Pacer {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until the next start is allowed, respecting the context.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	return nil
}

// Interval reports the spacing between starts; zero means unpaced.
func (p *Pacer) Interval() time.Duration {
	limit := p.limiter.Limit()
	if limit == rate.Inf || limit <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(time.Second) / float64(limit)))
}

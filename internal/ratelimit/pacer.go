package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces requests per key by a fixed interval. Keys are independent, so one
// slow source never delays another.
type Pacer struct {
	interval time.Duration
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

// NewPacer creates a pacer. A non-positive interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *Pacer) limiter(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[key]
	if !ok {
		// burst of 1: the first request goes immediately, each later one waits a full interval
		l = rate.NewLimiter(rate.Every(p.interval), 1)
		p.limiters[key] = l
	}
	return l
}

// Wait blocks until key may issue its next request or ctx is done.
func (p *Pacer) Wait(ctx context.Context, key string) error {
	if p.interval <= 0 {
		return ctx.Err()
	}
	return p.limiter(key).Wait(ctx)
}

// Interval returns the configured spacing.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

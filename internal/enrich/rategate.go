package enrich

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultRPM applies when the rpm function reports no budget for a key.
const defaultRPM = 30

// Gate spaces outbound calls per key so providers never see more than
// their configured requests-per-minute. Limiters are created on first use
// with burst 1, so the first call passes immediately and later calls wait
// out the interval. The batch runner uses it sequentially; the mutex
// covers the serve surface, where handlers share one gate.
type Gate struct {
	rpm func(key string) int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewGate builds a gate that asks rpm for each new key's budget.
func NewGate(rpm func(key string) int) *Gate {
	return &Gate{
		rpm:      rpm,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the key's limiter grants a slot and reports how long
// the grant took. The only error is a cancelled or expired context.
func (g *Gate) Wait(ctx context.Context, key string) (time.Duration, error) {
	lim := g.limiterFor(key)
	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return time.Since(start), err
	}
	return time.Since(start), nil
}

func (g *Gate) limiterFor(key string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if lim, ok := g.limiters[key]; ok {
		return lim
	}
	rpm := defaultRPM
	if g.rpm != nil {
		if r := g.rpm(key); r > 0 {
			rpm = r
		}
	}
	lim := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
	g.limiters[key] = lim
	return lim
}

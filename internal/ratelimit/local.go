package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

var _ RateLimiter = (*Local)(nil)

// Local is an in-process token bucket per scope. It only bounds this process.
type Local struct {
	mu       sync.Mutex
	limits   Limits
	limiters map[string]*rate.Limiter
}

func NewLocal(limits Limits) *Local {
	return &Local{
		limits:   limits,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *Local) Allow(_ context.Context, scope string) (bool, error) {
	return l.limiter(scope).Allow(), nil
}

func (l *Local) Wait(ctx context.Context, scope string) error {
	return l.limiter(scope).Wait(ctx)
}

func (l *Local) limiter(scope string) *rate.Limiter {
	key := NormalizeScope(scope)

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		perSec := l.limits.For(key)
		lim = rate.NewLimiter(rate.Limit(perSec), perSec)
		l.limiters[key] = lim
	}
	return lim
}

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	window = time.Second
	// Counters outlive their window by a second to tolerate clock skew between workers.
	windowTTLSeconds = 2
)

// takeScript counts one send in the current window and returns the window total.
var takeScript = goredis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return used
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter shares a fixed one-second window per scope across every worker
// process. Each scope spends its own budget from limits.
type RedisRateLimiter struct {
	client *goredis.Client
	limits ratelimit.Limits
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limits ratelimit.Limits) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	return &RedisRateLimiter{
		client: client,
		limits: limits,
		now:    time.Now,
		sleep:  sleepWithContext,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	_, allowed, err := r.take(ctx, scope)
	return allowed, err
}

// Wait blocks until scope has budget. A rejected send sleeps to the start of the
// next window, where the budget is fresh.
func (r *RedisRateLimiter) Wait(ctx context.Context, scope string) error {
	for {
		at, allowed, err := r.take(ctx, scope)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := r.sleep(ctx, untilNextWindow(at)); err != nil {
			return err
		}
	}
}

// Limit returns the per-second budget of scope.
func (r *RedisRateLimiter) Limit(scope string) int {
	return r.limits.For(scope)
}

func (r *RedisRateLimiter) take(ctx context.Context, scope string) (time.Time, bool, error) {
	if r == nil || r.client == nil {
		return time.Time{}, false, fmt.Errorf("rate limiter is not initialized")
	}

	scope = ratelimit.NormalizeScope(scope)
	if scope == "" {
		return time.Time{}, false, fmt.Errorf("rate limit scope is required")
	}

	at := r.now()
	used, err := takeScript.Run(ctx, r.client, []string{windowKey(scope, at)}, windowTTLSeconds).Int64()
	if err != nil {
		return at, false, fmt.Errorf("failed to evaluate rate limit for %s: %w", scope, err)
	}
	return at, used <= int64(r.limits.For(scope)), nil
}

// windowKey is the counter key of scope for the window containing at,
// e.g. fallback:ratelimit:payments:1700000000.
func windowKey(scope string, at time.Time) string {
	return fmt.Sprintf("fallback:ratelimit:%s:%d", scope, at.UTC().Unix())
}

func untilNextWindow(at time.Time) time.Duration {
	d := at.Truncate(window).Add(window).Sub(at)
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

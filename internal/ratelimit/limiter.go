package ratelimit

import (
	"context"
	"fmt"
	"strings"
)

// RateLimiter throttles outbound sends per scope (e.g. notifications, payments).
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}

const (
	ScopeNotifications = "notifications"
	ScopePayments      = "payments"

	DefaultLimitPerSec = 25
)

// Limits is the per-second send budget of each scope. The bot API and the payout
// gateway throttle independently, so each scope is sized on its own. Scopes without
// an entry get DefaultLimitPerSec.
type Limits map[string]int

func (l Limits) For(scope string) int {
	if n, ok := l[NormalizeScope(scope)]; ok && n > 0 {
		return n
	}
	return DefaultLimitPerSec
}

func (l Limits) Validate() error {
	for scope, n := range l {
		if n <= 0 {
			return fmt.Errorf("rate limit for %s must be positive (got %d)", scope, n)
		}
	}
	return nil
}

func NormalizeScope(scope string) string {
	return strings.ToLower(strings.TrimSpace(scope))
}

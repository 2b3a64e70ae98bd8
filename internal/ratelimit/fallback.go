package ratelimit

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var _ RateLimiter = (*Fallback)(nil)

// Fallback prefers the shared limiter and degrades to the local one when the
// shared limiter errors (typically because Redis is unreachable).
type Fallback struct {
	primary RateLimiter
	local   RateLimiter
	logger  *zap.Logger
}

func NewFallback(primary, local RateLimiter, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{primary: primary, local: local, logger: logger}
}

func (f *Fallback) Allow(ctx context.Context, scope string) (bool, error) {
	if f.primary != nil {
		allowed, err := f.primary.Allow(ctx, scope)
		if err == nil {
			return allowed, nil
		}
		f.degrade(scope, err)
	}
	if f.local == nil {
		return true, nil
	}
	return f.local.Allow(ctx, scope)
}

func (f *Fallback) Wait(ctx context.Context, scope string) error {
	if f.primary != nil {
		err := f.primary.Wait(ctx, scope)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		f.degrade(scope, err)
	}
	if f.local == nil {
		return nil
	}
	return f.local.Wait(ctx, scope)
}

func (f *Fallback) degrade(scope string, err error) {
	f.logger.Warn("shared rate limiter unavailable, using local limiter",
		zap.String("scope", scope),
		zap.Error(err),
	)
}

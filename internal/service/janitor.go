package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/observability"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	JanitorJob = "janitor"

	JanitorTaskSessions  = "expired_sessions"
	JanitorTaskFallbacks = "processed_fallbacks"

	defaultFallbackRetention = 7 * 24 * time.Hour
)

type JanitorResult struct {
	SessionsDeactivated int64 `json:"sessionsDeactivated"`
	FallbacksPurged     int64 `json:"fallbacksPurged"`
}

// Janitor expires operator sessions and prunes processed fallback rows.
type Janitor struct {
	sessions  repository.SessionRepository
	fallbacks repository.FallbackRepository
	retention time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewJanitor(
	sessions repository.SessionRepository,
	fallbacks repository.FallbackRepository,
	retention time.Duration,
	logger *zap.Logger,
) (*Janitor, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session repository is required")
	}
	if fallbacks == nil {
		return nil, fmt.Errorf("fallback repository is required")
	}
	if retention <= 0 {
		retention = defaultFallbackRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Janitor{
		sessions:  sessions,
		fallbacks: fallbacks,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (j *Janitor) SetMetrics(metrics *observability.Metrics) {
	if j == nil {
		return
	}
	j.metrics = metrics
}

func (j *Janitor) Name() string { return JanitorJob }

func (j *Janitor) Run(ctx context.Context) error {
	_, err := j.Clean(ctx)
	return err
}

// Clean runs both tasks. A failing task does not stop the other one.
func (j *Janitor) Clean(ctx context.Context) (JanitorResult, error) {
	logger := observability.WithContextLogger(j.logger, ctx)
	now := j.now().UTC()

	var result JanitorResult

	deactivated, sessionErr := j.DeactivateExpiredSessions(ctx, now)
	if sessionErr != nil {
		logger.Error("failed to deactivate expired sessions", zap.Error(sessionErr))
	}
	result.SessionsDeactivated = deactivated

	purged, purgeErr := j.fallbacks.PurgeProcessedBefore(ctx, now.Add(-j.retention))
	if purgeErr != nil {
		purgeErr = fmt.Errorf("failed to purge processed fallbacks: %w", purgeErr)
		logger.Error("failed to purge processed fallback rows", zap.Error(purgeErr))
	} else {
		j.metrics.AddJanitorRows(JanitorTaskFallbacks, purged)
	}
	result.FallbacksPurged = purged

	logger.Info("janitor finished",
		zap.Int64("sessionsDeactivated", result.SessionsDeactivated),
		zap.Int64("fallbacksPurged", result.FallbacksPurged),
	)
	return result, errors.Join(sessionErr, purgeErr)
}

func (j *Janitor) DeactivateExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	n, err := j.sessions.DeactivateExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired sessions: %w", err)
	}
	j.metrics.AddJanitorRows(JanitorTaskSessions, n)
	return n, nil
}

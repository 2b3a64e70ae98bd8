package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/kursadbilgin/fallback-engine/internal/observability"
	"github.com/kursadbilgin/fallback-engine/internal/ratelimit"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"github.com/kursadbilgin/fallback-engine/internal/sender"
	"go.uber.org/zap"
)

const NotificationRetryJob = "notification_retry"

// NotificationRetryEngine re-sends failed notifications on the policy's backoff schedule.
type NotificationRetryEngine struct {
	notifications repository.FailedNotificationRepository
	sender        sender.NotificationSender
	policy        domain.RetryPolicy
	opts          BatchOptions
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewNotificationRetryEngine(
	notifications repository.FailedNotificationRepository,
	notificationSender sender.NotificationSender,
	policy domain.RetryPolicy,
	opts BatchOptions,
	logger *zap.Logger,
) (*NotificationRetryEngine, error) {
	if notifications == nil {
		return nil, fmt.Errorf("failed notification repository is required")
	}
	if notificationSender == nil {
		return nil, fmt.Errorf("notification sender is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationRetryEngine{
		notifications: notifications,
		sender:        notificationSender,
		policy:        policy,
		opts:          opts.withDefaults(),
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (e *NotificationRetryEngine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

func (e *NotificationRetryEngine) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if e == nil {
		return
	}
	e.rateLimiter = limiter
}

func (e *NotificationRetryEngine) Name() string { return NotificationRetryJob }

func (e *NotificationRetryEngine) Run(ctx context.Context) error {
	_, err := e.RunBatch(ctx)
	return err
}

// RunBatch claims due rows and attempts each once. Per-row failures are recorded on
// the row; only claim errors and cancellation are returned.
func (e *NotificationRetryEngine) RunBatch(ctx context.Context) (BatchResult, error) {
	logger := observability.WithContextLogger(e.logger, ctx)
	now := e.now().UTC()

	claimed, skipped, err := e.notifications.ClaimDue(ctx, repository.ClaimParams{
		MaxRetries: e.policy.MaxRetries,
		Now:        now,
		Lease:      e.opts.Lease,
		Limit:      e.opts.Limit,
	}, func(n *domain.FailedNotification) bool {
		return e.policy.IsDue(n.AttemptCount, n.LastAttempt(), now)
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to claim notifications: %w", err)
	}

	result := BatchResult{Skipped: skipped}
	for _, outcome := range runItems(ctx, e.opts.Concurrency, claimed, e.retry) {
		result.record(outcome)
	}
	result.observe(NotificationRetryJob, e.metrics)

	logger.Info("notification retry batch finished", result.fields()...)
	return result, ctx.Err()
}

func (e *NotificationRetryEngine) retry(ctx context.Context, n domain.FailedNotification) itemOutcome {
	logger := observability.WithContextLogger(e.logger, ctx).With(
		zap.String("notificationId", n.ID),
		zap.Int64("recipientId", n.RecipientID),
		zap.Int("attempt", n.AttemptCount+1),
	)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.Wait(ctx, ratelimit.ScopeNotifications); err != nil {
			if ctx.Err() != nil {
				return outcomeSkipped
			}
			logger.Warn("rate limiter wait failed, sending anyway", zap.Error(err))
		}
	}

	start := e.now()
	_, sendErr := callWithTimeout(ctx, e.opts.SendTimeout, func(sendCtx context.Context) (struct{}, error) {
		return struct{}{}, e.sender.SendNotification(sendCtx, n.RecipientID, n.Message)
	})
	e.metrics.ObserveSendDuration(NotificationRetryJob, e.now().Sub(start))

	// The send already happened; its outcome is persisted even if the batch is being aborted.
	persistCtx := context.WithoutCancel(ctx)
	finishedAt := e.now().UTC()

	if sendErr == nil {
		if err := e.notifications.MarkResolved(persistCtx, n.ID, finishedAt); err != nil {
			logger.Error("notification delivered but resolve failed", zap.Error(err))
		}
		return outcomeSuccessful
	}

	e.metrics.IncSendFailure(NotificationRetryJob, sender.ErrorCode(sendErr))
	exhausted := e.policy.Exhausted(n.AttemptCount+1) || sender.IsPermanent(sendErr)

	err := e.notifications.RecordFailure(persistCtx, n.ID, repository.FailureUpdate{
		Error:     truncateError(sendErr),
		Now:       finishedAt,
		MoveToDLQ: exhausted,
	})
	if err != nil {
		logger.Error("failed to record notification failure", zap.Error(err), zap.NamedError("sendError", sendErr))
		return outcomeFailed
	}

	if exhausted {
		e.metrics.IncDLQEntry(NotificationRetryJob)
		logger.Warn("notification gave up, moved to dead-letter queue", zap.Error(sendErr))
		return outcomeGaveUp
	}

	logger.Warn("notification retry failed", zap.Error(sendErr))
	return outcomeFailed
}

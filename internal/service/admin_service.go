package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultAdminListLimit = 100
	defaultRequeueRetries = 3
)

// Stats summarizes backlog sizes for the operator dashboard.
type Stats struct {
	PendingNotifications int64 `json:"pendingNotifications"`
	NotificationDLQ      int64 `json:"notificationDlq"`
	PendingPayments      int64 `json:"pendingPayments"`
	PaymentDLQ           int64 `json:"paymentDlq"`
	PendingFallbacks     int64 `json:"pendingFallbacks"`
}

// AdminService backs the operator console.
type AdminService struct {
	notifications  repository.FailedNotificationRepository
	payments       repository.PaymentRetryRepository
	fallbacks      repository.FallbackRepository
	requeueRetries int
	logger         *zap.Logger
	now            func() time.Time
}

func NewAdminService(
	notifications repository.FailedNotificationRepository,
	payments repository.PaymentRetryRepository,
	fallbacks repository.FallbackRepository,
	requeueRetries int,
	logger *zap.Logger,
) (*AdminService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("failed notification repository is required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment retry repository is required")
	}
	if fallbacks == nil {
		return nil, fmt.Errorf("fallback repository is required")
	}
	if requeueRetries <= 0 {
		requeueRetries = defaultRequeueRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AdminService{
		notifications:  notifications,
		payments:       payments,
		fallbacks:      fallbacks,
		requeueRetries: requeueRetries,
		logger:         logger,
		now:            time.Now,
	}, nil
}

// GetUnresolved lists notifications still owed to users, optionally only critical ones.
func (s *AdminService) GetUnresolved(ctx context.Context, criticalOnly bool) ([]domain.FailedNotification, error) {
	items, err := s.notifications.ListUnresolved(ctx, criticalOnly, defaultAdminListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved notifications: %w", err)
	}
	return items, nil
}

// ResolveManually marks a notification resolved after an operator delivered it by hand.
func (s *AdminService) ResolveManually(ctx context.Context, id string) (*domain.FailedNotification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Resolved {
		return nil, fmt.Errorf("%w: notification %s is already resolved", domain.ErrConflict, id)
	}

	now := s.now().UTC()
	if err := s.notifications.MarkResolved(ctx, id, now); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Resolved by a retry run in between.
			return nil, fmt.Errorf("%w: notification %s is already resolved", domain.ErrConflict, id)
		}
		return nil, fmt.Errorf("failed to resolve notification: %w", err)
	}

	s.logger.Info("notification resolved manually",
		zap.String("notificationId", id),
		zap.Int64("recipientId", n.RecipientID),
	)

	n.Resolved = true
	n.ResolvedAt = &now
	n.LockedUntil = nil
	return n, nil
}

// GetDlqEntries lists dead-lettered payouts awaiting operator action.
func (s *AdminService) GetDlqEntries(ctx context.Context) ([]domain.PaymentRetry, error) {
	items, err := s.payments.ListDLQ(ctx, defaultAdminListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment dead-letter queue: %w", err)
	}
	return items, nil
}

func (s *AdminService) GetNotificationDLQ(ctx context.Context) ([]domain.FailedNotification, error) {
	items, err := s.notifications.ListDLQ(ctx, defaultAdminListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification dead-letter queue: %w", err)
	}
	return items, nil
}

// RequeuePayment returns a dead-lettered payout to the retry pool with a fresh retry budget.
func (s *AdminService) RequeuePayment(ctx context.Context, id string) (*domain.PaymentRetry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: payment id is required", domain.ErrValidation)
	}

	p, err := s.payments.Requeue(ctx, id, s.requeueRetries, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment requeued",
		zap.String("paymentId", p.ID),
		zap.Int("attemptCount", p.AttemptCount),
		zap.Int("maxRetries", p.MaxRetries),
	)
	return p, nil
}

func (s *AdminService) Stats(ctx context.Context) (Stats, error) {
	var (
		stats Stats
		err   error
	)

	if stats.PendingNotifications, err = s.notifications.CountPending(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count pending notifications: %w", err)
	}
	if stats.NotificationDLQ, err = s.notifications.CountDLQ(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count notification dead letters: %w", err)
	}
	if stats.PendingPayments, err = s.payments.CountPending(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count pending payments: %w", err)
	}
	if stats.PaymentDLQ, err = s.payments.CountDLQ(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count payment dead letters: %w", err)
	}
	if stats.PendingFallbacks, err = s.fallbacks.CountPending(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to count pending fallbacks: %w", err)
	}
	return stats, nil
}

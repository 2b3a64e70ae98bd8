package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FailedNotificationInput describes a notification whose first delivery attempt failed.
type FailedNotificationInput struct {
	RecipientID int64
	Category    string
	Message     string
	Metadata    map[string]any
	Critical    bool
	Err         error
}

// FailedPaymentInput describes a payout whose first broadcast failed.
type FailedPaymentInput struct {
	RecipientID int64
	Amount      decimal.Decimal
	PaymentType domain.PaymentType
	EarningIDs  []int64
	Err         error
}

// FailureRecorder is the entry point callers use after a failed first delivery or
// payout attempt. The recorded rows are picked up by the retry engines.
type FailureRecorder struct {
	notifications     repository.FailedNotificationRepository
	payments          repository.PaymentRetryRepository
	paymentMaxRetries int
	logger            *zap.Logger
	now               func() time.Time
}

func NewFailureRecorder(
	notifications repository.FailedNotificationRepository,
	payments repository.PaymentRetryRepository,
	paymentMaxRetries int,
	logger *zap.Logger,
) (*FailureRecorder, error) {
	if notifications == nil {
		return nil, fmt.Errorf("failed notification repository is required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment retry repository is required")
	}
	if paymentMaxRetries <= 0 {
		paymentMaxRetries = domain.DefaultPaymentMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FailureRecorder{
		notifications:     notifications,
		payments:          payments,
		paymentMaxRetries: paymentMaxRetries,
		logger:            logger,
		now:               time.Now,
	}, nil
}

// RecordFailedNotification stores the failed first attempt, so the row starts at
// attempt_count 1 with the attempt time as its backoff origin.
func (r *FailureRecorder) RecordFailedNotification(ctx context.Context, in FailedNotificationInput) (*domain.FailedNotification, error) {
	now := r.now().UTC()
	n := &domain.FailedNotification{
		ID:            uuid.NewString(),
		RecipientID:   in.RecipientID,
		Category:      domain.NormalizeCategory(in.Category),
		Message:       in.Message,
		Metadata:      in.Metadata,
		AttemptCount:  1,
		LastError:     errorText(in.Err),
		Critical:      in.Critical,
		LastAttemptAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}

	if err := r.notifications.Create(ctx, n); err != nil {
		r.logger.Error("failed to record failed notification",
			zap.Int64("recipientId", in.RecipientID),
			zap.String("category", n.Category),
			zap.Error(err),
		)
		return nil, err
	}

	r.logger.Info("failed notification recorded for retry",
		zap.String("notificationId", n.ID),
		zap.Int64("recipientId", n.RecipientID),
		zap.Bool("critical", n.Critical),
	)
	return n, nil
}

// RecordFailedPayment stores a payout for retry. The row is eligible immediately and
// the failed first broadcast does not count against the retry budget.
func (r *FailureRecorder) RecordFailedPayment(ctx context.Context, in FailedPaymentInput) (*domain.PaymentRetry, error) {
	now := r.now().UTC()
	p := &domain.PaymentRetry{
		ID:            uuid.NewString(),
		RecipientID:   in.RecipientID,
		Amount:        in.Amount,
		PaymentType:   in.PaymentType,
		EarningIDs:    append([]int64(nil), in.EarningIDs...),
		MaxRetries:    r.paymentMaxRetries,
		LastAttemptAt: &now,
		LastError:     errorText(in.Err),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := r.payments.Create(ctx, p); err != nil {
		r.logger.Error("failed to record failed payment",
			zap.Int64("recipientId", in.RecipientID),
			zap.String("amount", in.Amount.String()),
			zap.Error(err),
		)
		return nil, err
	}

	r.logger.Info("failed payment recorded for retry",
		zap.String("paymentId", p.ID),
		zap.Int64("recipientId", p.RecipientID),
		zap.String("paymentType", p.PaymentType.String()),
	)
	return p, nil
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	msg := truncateError(err)
	if strings.TrimSpace(msg) == "" {
		return nil
	}
	return &msg
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentClaimParams bounds a claim of eligible payment rows.
type PaymentClaimParams struct {
	Now   time.Time
	Lease time.Duration
	Limit int
}

// PaymentFailure describes one failed payout attempt. NextRetryAt is ignored when
// the row moves to the dead-letter queue. TxReference is set when the payout was
// broadcast but could not be resolved.
type PaymentFailure struct {
	LastError   string
	ErrorDetail *string
	TxReference *string
	Now         time.Time
	NextRetryAt time.Time
	MoveToDLQ   bool
}

type PaymentRetryRepository interface {
	Create(ctx context.Context, p *domain.PaymentRetry) error
	GetByID(ctx context.Context, id string) (*domain.PaymentRetry, error)
	ClaimDue(ctx context.Context, params PaymentClaimParams) ([]domain.PaymentRetry, error)
	MarkSucceeded(ctx context.Context, id, txReference string, now time.Time) error
	RecordFailure(ctx context.Context, id string, failure PaymentFailure) error
	ListDLQ(ctx context.Context, limit int) ([]domain.PaymentRetry, error)
	Requeue(ctx context.Context, id string, extraRetries int, now time.Time) (*domain.PaymentRetry, error)
	CountPending(ctx context.Context) (int64, error)
	CountDLQ(ctx context.Context) (int64, error)
}

type GormPaymentRetryRepo struct {
	db *gorm.DB
}

func NewGormPaymentRetryRepo(db *gorm.DB) *GormPaymentRetryRepo {
	return &GormPaymentRetryRepo{db: db}
}

func (r *GormPaymentRetryRepo) Create(ctx context.Context, p *domain.PaymentRetry) error {
	if p == nil {
		return fmt.Errorf("%w: payment is nil", domain.ErrValidation)
	}
	model, err := paymentRetryModelFromDomain(p)
	if err != nil {
		return fmt.Errorf("encode payment retry: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("create payment retry: %w", err)
	}
	stored, err := paymentRetryModelToDomain(model)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

func (r *GormPaymentRetryRepo) GetByID(ctx context.Context, id string) (*domain.PaymentRetry, error) {
	var model PaymentRetryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return paymentRetryModelToDomain(&model)
}

// ClaimDue locks eligible rows with SKIP LOCKED and leases them until Now+Lease, so
// overlapping runs never broadcast the same payout concurrently.
func (r *GormPaymentRetryRepo) ClaimDue(ctx context.Context, params PaymentClaimParams) ([]domain.PaymentRetry, error) {
	var claimed []domain.PaymentRetry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []PaymentRetryModel
		err := eligible(tx, params.Now).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(locked_until IS NULL OR locked_until <= ?)", params.Now).
			Order("COALESCE(next_retry_at, created_at) ASC").
			Order("id ASC").
			Limit(params.Limit).
			Find(&models).Error
		if err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}

		leaseUntil := params.Now.Add(params.Lease)
		ids := make([]string, 0, len(models))
		for i := range models {
			ids = append(ids, models[i].ID)
		}
		if err := tx.Model(&PaymentRetryModel{}).
			Where("id IN ?", ids).
			UpdateColumn("locked_until", leaseUntil).Error; err != nil {
			return err
		}

		claimed = make([]domain.PaymentRetry, 0, len(models))
		for i := range models {
			models[i].LockedUntil = &leaseUntil
			p, err := paymentRetryModelToDomain(&models[i])
			if err != nil {
				return fmt.Errorf("decode payment %s: %w", models[i].ID, err)
			}
			claimed = append(claimed, *p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim payment retries: %w", err)
	}

	return claimed, nil
}

func (r *GormPaymentRetryRepo) MarkSucceeded(ctx context.Context, id, txReference string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&PaymentRetryModel{}).
		Where("id = ? AND resolved = ? AND in_dlq = ?", id, false, false).
		Updates(map[string]any{
			"resolved":        true,
			"resolved_at":     now,
			"tx_reference":    txReference,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_attempt_at": now,
			"next_retry_at":   nil,
			"locked_until":    nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormPaymentRetryRepo) RecordFailure(ctx context.Context, id string, failure PaymentFailure) error {
	values := map[string]any{
		"attempt_count":   gorm.Expr("attempt_count + 1"),
		"last_error":      failure.LastError,
		"error_detail":    failure.ErrorDetail,
		"last_attempt_at": failure.Now,
		"locked_until":    nil,
	}
	if failure.TxReference != nil {
		values["tx_reference"] = *failure.TxReference
	}
	if failure.MoveToDLQ {
		values["in_dlq"] = true
		values["next_retry_at"] = nil
	} else {
		values["next_retry_at"] = failure.NextRetryAt
	}

	result := r.db.WithContext(ctx).
		Model(&PaymentRetryModel{}).
		Where("id = ? AND resolved = ? AND in_dlq = ?", id, false, false).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormPaymentRetryRepo) ListDLQ(ctx context.Context, limit int) ([]domain.PaymentRetry, error) {
	query := r.db.WithContext(ctx).
		Where("in_dlq = ?", true).
		Order("updated_at DESC")
	return r.list(query, limit)
}

// Requeue moves a dead-lettered payment back into the retry pool. attempt_count is
// kept; the retry ceiling is raised by extraRetries instead. Rows carrying a
// tx_reference were already broadcast and are never requeued.
func (r *GormPaymentRetryRepo) Requeue(ctx context.Context, id string, extraRetries int, now time.Time) (*domain.PaymentRetry, error) {
	var requeued *domain.PaymentRetry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model PaymentRetryModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !model.InDLQ || model.Resolved {
			return fmt.Errorf("%w: payment %s is not dead-lettered", domain.ErrConflict, id)
		}
		if model.TxReference != nil && *model.TxReference != "" {
			return fmt.Errorf("%w: payment %s was already broadcast as %s", domain.ErrConflict, id, *model.TxReference)
		}

		maxRetries := max(model.MaxRetries, model.AttemptCount) + max(extraRetries, 1)
		if err := tx.Model(&model).Updates(map[string]any{
			"in_dlq":        false,
			"max_retries":   maxRetries,
			"next_retry_at": now,
			"locked_until":  nil,
		}).Error; err != nil {
			return err
		}

		model.InDLQ = false
		model.MaxRetries = maxRetries
		model.NextRetryAt = &now
		model.LockedUntil = nil
		requeued, err = paymentRetryModelToDomain(&model)
		return err
	})
	if err != nil {
		return nil, err
	}

	return requeued, nil
}

func (r *GormPaymentRetryRepo) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PaymentRetryModel{}).
		Where("resolved = ? AND in_dlq = ?", false, false).
		Count(&count).Error
	return count, err
}

func (r *GormPaymentRetryRepo) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PaymentRetryModel{}).
		Where("in_dlq = ?", true).
		Count(&count).Error
	return count, err
}

func (r *GormPaymentRetryRepo) list(query *gorm.DB, limit int) ([]domain.PaymentRetry, error) {
	var models []PaymentRetryModel
	if err := query.Limit(normalizeLimit(limit)).Find(&models).Error; err != nil {
		return nil, err
	}

	payments := make([]domain.PaymentRetry, 0, len(models))
	for i := range models {
		p, err := paymentRetryModelToDomain(&models[i])
		if err != nil {
			return nil, fmt.Errorf("decode payment %s: %w", models[i].ID, err)
		}
		payments = append(payments, *p)
	}
	return payments, nil
}

func eligible(db *gorm.DB, now time.Time) *gorm.DB {
	return db.
		Where("resolved = ? AND in_dlq = ?", false, false).
		Where("(next_retry_at IS NULL OR next_retry_at <= ?)", now)
}

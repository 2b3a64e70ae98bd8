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

// ClaimParams bounds a claim of retryable notification rows.
type ClaimParams struct {
	MaxRetries int
	Now        time.Time
	Lease      time.Duration
	Limit      int
}

// FailureUpdate describes one failed notification attempt.
type FailureUpdate struct {
	Error     string
	Now       time.Time
	MoveToDLQ bool
}

type FailedNotificationRepository interface {
	Create(ctx context.Context, n *domain.FailedNotification) error
	GetByID(ctx context.Context, id string) (*domain.FailedNotification, error)
	ClaimDue(ctx context.Context, params ClaimParams, isDue func(*domain.FailedNotification) bool) ([]domain.FailedNotification, int, error)
	MarkResolved(ctx context.Context, id string, now time.Time) error
	RecordFailure(ctx context.Context, id string, update FailureUpdate) error
	ListUnresolved(ctx context.Context, criticalOnly bool, limit int) ([]domain.FailedNotification, error)
	ListDLQ(ctx context.Context, limit int) ([]domain.FailedNotification, error)
	CountPending(ctx context.Context) (int64, error)
	CountDLQ(ctx context.Context) (int64, error)
}

type GormFailedNotificationRepo struct {
	db *gorm.DB
}

func NewGormFailedNotificationRepo(db *gorm.DB) *GormFailedNotificationRepo {
	return &GormFailedNotificationRepo{db: db}
}

func (r *GormFailedNotificationRepo) Create(ctx context.Context, n *domain.FailedNotification) error {
	model := failedNotificationModelFromDomain(n)
	if model == nil {
		return fmt.Errorf("%w: notification is nil", domain.ErrValidation)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("create failed notification: %w", err)
	}
	*n = *failedNotificationModelToDomain(model)
	return nil
}

func (r *GormFailedNotificationRepo) GetByID(ctx context.Context, id string) (*domain.FailedNotification, error) {
	var model FailedNotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return failedNotificationModelToDomain(&model), nil
}

// ClaimDue locks retryable rows, keeps the ones isDue accepts and leases them to the
// caller until Now+Lease. Rows rejected by isDue are counted as skipped and stay unleased.
func (r *GormFailedNotificationRepo) ClaimDue(
	ctx context.Context,
	params ClaimParams,
	isDue func(*domain.FailedNotification) bool,
) ([]domain.FailedNotification, int, error) {
	var claimed []domain.FailedNotification
	skipped := 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []FailedNotificationModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("resolved = ? AND in_dlq = ? AND attempt_count < ?", false, false, params.MaxRetries).
			Where("(locked_until IS NULL OR locked_until <= ?)", params.Now).
			Order("COALESCE(last_attempt_at, created_at) ASC").
			Order("id ASC").
			Limit(params.Limit).
			Find(&models).Error
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(models))
		for i := range models {
			n := failedNotificationModelToDomain(&models[i])
			if isDue != nil && !isDue(n) {
				skipped++
				continue
			}
			ids = append(ids, n.ID)
			claimed = append(claimed, *n)
		}
		if len(ids) == 0 {
			return nil
		}

		leaseUntil := params.Now.Add(params.Lease)
		if err := tx.Model(&FailedNotificationModel{}).
			Where("id IN ?", ids).
			UpdateColumn("locked_until", leaseUntil).Error; err != nil {
			return err
		}
		for i := range claimed {
			claimed[i].LockedUntil = &leaseUntil
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("claim failed notifications: %w", err)
	}

	return claimed, skipped, nil
}

func (r *GormFailedNotificationRepo) MarkResolved(ctx context.Context, id string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&FailedNotificationModel{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":     true,
			"resolved_at":  now,
			"locked_until": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormFailedNotificationRepo) RecordFailure(ctx context.Context, id string, update FailureUpdate) error {
	values := map[string]any{
		"attempt_count":   gorm.Expr("attempt_count + 1"),
		"last_error":      update.Error,
		"last_attempt_at": update.Now,
		"locked_until":    nil,
	}
	if update.MoveToDLQ {
		values["in_dlq"] = true
	}

	result := r.db.WithContext(ctx).
		Model(&FailedNotificationModel{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormFailedNotificationRepo) ListUnresolved(ctx context.Context, criticalOnly bool, limit int) ([]domain.FailedNotification, error) {
	query := r.db.WithContext(ctx).Where("resolved = ?", false)
	if criticalOnly {
		query = query.Where("critical = ?", true)
	}
	return r.list(query, limit)
}

func (r *GormFailedNotificationRepo) ListDLQ(ctx context.Context, limit int) ([]domain.FailedNotification, error) {
	return r.list(r.db.WithContext(ctx).Where("in_dlq = ? AND resolved = ?", true, false), limit)
}

func (r *GormFailedNotificationRepo) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&FailedNotificationModel{}).
		Where("resolved = ? AND in_dlq = ?", false, false).
		Count(&count).Error
	return count, err
}

func (r *GormFailedNotificationRepo) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&FailedNotificationModel{}).
		Where("in_dlq = ? AND resolved = ?", true, false).
		Count(&count).Error
	return count, err
}

func (r *GormFailedNotificationRepo) list(query *gorm.DB, limit int) ([]domain.FailedNotification, error) {
	var models []FailedNotificationModel
	err := query.
		Order("created_at DESC").
		Limit(normalizeLimit(limit)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.FailedNotification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *failedNotificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

func normalizeLimit(limit int) int {
	if limit < 1 {
		return 100
	}
	return min(limit, 1000)
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"gorm.io/gorm"
)

type FallbackRepository interface {
	Enqueue(ctx context.Context, f *domain.FallbackNotification) error
	ListPending(ctx context.Context, limit int) ([]domain.FallbackNotification, error)
	MarkProcessed(ctx context.Context, id string, now time.Time) (bool, error)
	RecordFailure(ctx context.Context, id string, errMsg string) error
	CountPending(ctx context.Context) (int64, error)
	PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormFallbackRepo struct {
	db *gorm.DB
}

func NewGormFallbackRepo(db *gorm.DB) *GormFallbackRepo {
	return &GormFallbackRepo{db: db}
}

func (r *GormFallbackRepo) Enqueue(ctx context.Context, f *domain.FallbackNotification) error {
	model := fallbackModelFromDomain(f)
	if model == nil {
		return fmt.Errorf("%w: fallback notification is nil", domain.ErrValidation)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("enqueue fallback notification: %w", err)
	}
	*f = *fallbackModelToDomain(model)
	return nil
}

// ListPending returns unprocessed rows, most urgent first and oldest first within a priority.
func (r *GormFallbackRepo) ListPending(ctx context.Context, limit int) ([]domain.FallbackNotification, error) {
	var models []FallbackNotificationModel
	err := r.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("priority DESC").
		Order("created_at ASC").
		Order("id ASC").
		Limit(normalizeLimit(limit)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	pending := make([]domain.FallbackNotification, 0, len(models))
	for i := range models {
		pending = append(pending, *fallbackModelToDomain(&models[i]))
	}
	return pending, nil
}

// MarkProcessed stamps processed_at on a pending row. It reports false when the row was
// already processed by another run.
func (r *GormFallbackRepo) MarkProcessed(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&FallbackNotificationModel{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]any{
			"processed_at": now,
			"attempts":     gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormFallbackRepo) RecordFailure(ctx context.Context, id string, errMsg string) error {
	result := r.db.WithContext(ctx).
		Model(&FallbackNotificationModel{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]any{
			"last_error": errMsg,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormFallbackRepo) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&FallbackNotificationModel{}).
		Where("processed_at IS NULL").
		Count(&count).Error
	return count, err
}

func (r *GormFallbackRepo) PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ?", cutoff).
		Delete(&FallbackNotificationModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge processed fallback rows: %w", result.Error)
	}
	return result.RowsAffected, nil
}

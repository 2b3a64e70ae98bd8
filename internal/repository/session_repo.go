package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"gorm.io/gorm"
)

type SessionRepository interface {
	Create(ctx context.Context, s *domain.AdminSession) error
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormSessionRepo struct {
	db *gorm.DB
}

func NewGormSessionRepo(db *gorm.DB) *GormSessionRepo {
	return &GormSessionRepo{db: db}
}

func (r *GormSessionRepo) Create(ctx context.Context, s *domain.AdminSession) error {
	model := sessionModelFromDomain(s)
	if model == nil {
		return fmt.Errorf("%w: session is nil", domain.ErrValidation)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("create admin session: %w", err)
	}
	*s = *sessionModelToDomain(model)
	return nil
}

func (r *GormSessionRepo) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&AdminSessionModel{}).
		Where("is_active = ? AND expires_at <= ?", true, now).
		Update("is_active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("deactivate expired sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

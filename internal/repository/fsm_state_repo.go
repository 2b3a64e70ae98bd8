package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FsmStateRepository interface {
	Save(ctx context.Context, s *domain.FsmState) error
	Get(ctx context.Context, userID int64) (*domain.FsmState, error)
	ListFresh(ctx context.Context, since time.Time, limit int) ([]domain.FsmState, error)
	MarkMigrated(ctx context.Context, id string, at time.Time) error
}

type GormFsmStateRepo struct {
	db *gorm.DB
}

func NewGormFsmStateRepo(db *gorm.DB) *GormFsmStateRepo {
	return &GormFsmStateRepo{db: db}
}

// Save upserts the row for s.UserID. On return s holds the stored row.
func (r *GormFsmStateRepo) Save(ctx context.Context, s *domain.FsmState) error {
	if s == nil {
		return fmt.Errorf("%w: state is nil", domain.ErrValidation)
	}

	model := &FsmStateModel{
		ID:     s.ID,
		UserID: s.UserID,
		State:  s.State,
		Data:   datatypes.JSONMap(s.Data),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "data", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return fmt.Errorf("upsert fsm state: %w", err)
	}

	stored, err := r.Get(ctx, s.UserID)
	if err != nil {
		return err
	}
	*s = *stored
	return nil
}

func (r *GormFsmStateRepo) Get(ctx context.Context, userID int64) (*domain.FsmState, error) {
	var model FsmStateModel
	err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fsmStateModelToDomain(&model), nil
}

// ListFresh returns rows with state updated at or after since that were not migrated
// since their last write.
func (r *GormFsmStateRepo) ListFresh(ctx context.Context, since time.Time, limit int) ([]domain.FsmState, error) {
	var models []FsmStateModel
	err := r.db.WithContext(ctx).
		Where("updated_at >= ? AND state IS NOT NULL", since).
		Where("(migrated_at IS NULL OR migrated_at < updated_at)").
		Order("updated_at ASC").
		Limit(normalizeLimit(limit)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	states := make([]domain.FsmState, 0, len(models))
	for i := range models {
		states = append(states, *fsmStateModelToDomain(&models[i]))
	}
	return states, nil
}

// MarkMigrated leaves updated_at untouched so the freshness window is not extended.
func (r *GormFsmStateRepo) MarkMigrated(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&FsmStateModel{}).
		Where("id = ?", id).
		UpdateColumn("migrated_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

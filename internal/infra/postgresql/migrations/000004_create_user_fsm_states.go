package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"gorm.io/gorm"
)

func createUserFsmStatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_user_fsm_states",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.FsmStateModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_user_fsm_states_updated ON user_fsm_states (updated_at) WHERE state IS NOT NULL`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.FsmStateModel{})
		},
	}
}

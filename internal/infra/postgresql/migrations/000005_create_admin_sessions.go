package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"gorm.io/gorm"
)

func createAdminSessionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_admin_sessions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AdminSessionModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_admin_sessions_active_expiry ON admin_sessions (expires_at) WHERE is_active = true`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AdminSessionModel{})
		},
	}
}

package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"gorm.io/gorm"
)

func createFailedNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_failed_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.FailedNotificationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_failed_notifications_retry ON failed_notifications (COALESCE(last_attempt_at, created_at)) WHERE resolved = false AND in_dlq = false`,
				`CREATE INDEX IF NOT EXISTS idx_failed_notifications_unresolved ON failed_notifications (critical, created_at) WHERE resolved = false`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.FailedNotificationModel{})
		},
	}
}

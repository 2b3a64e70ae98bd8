package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"gorm.io/gorm"
)

func createNotificationQueueFallbackTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_notification_queue_fallback",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.FallbackNotificationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_fallback_pending ON notification_queue_fallback (priority DESC, created_at ASC) WHERE processed_at IS NULL`,
				`CREATE INDEX IF NOT EXISTS idx_fallback_processed ON notification_queue_fallback (processed_at) WHERE processed_at IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.FallbackNotificationModel{})
		},
	}
}

package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"gorm.io/gorm"
)

func createPaymentRetriesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_payment_retries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PaymentRetryModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_payment_retries_eligible ON payment_retries (next_retry_at) WHERE resolved = false AND in_dlq = false`,
				`CREATE INDEX IF NOT EXISTS idx_payment_retries_dlq ON payment_retries (updated_at) WHERE in_dlq = true`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PaymentRetryModel{})
		},
	}
}

package cli

import (
	"github.com/kursadbilgin/fallback-engine/internal/infra/postgresql/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := migrations.Migrate(a.db); err != nil {
			a.logger.Error("database migrations failed", zap.Error(err))
			return err
		}
		a.logger.Info("database migrations applied")
		return nil
	},
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/fallback-engine/internal/observability"
	"github.com/kursadbilgin/fallback-engine/internal/service"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run a single job once and print its result",
	Long: `Run one batch of a job and print the result as JSON, for external schedulers.

Jobs: notification_retry, payment_retry, recovery_migrator, janitor

Examples:
  fallback-engine run payment_retry
  fallback-engine run recovery_migrator`,
	Args: cobra.ExactArgs(1),
	ValidArgs: []string{
		service.NotificationRetryJob,
		service.PaymentRetryJob,
		service.RecoveryMigratorJob,
		service.JanitorJob,
	},
	RunE: runOnce,
}

func runOnce(cmd *cobra.Command, args []string) error {
	name := args[0]
	if !isJobName(name) {
		return fmt.Errorf("unknown job %q", name)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx = observability.WithRun(ctx, name, observability.NewRunID())

	result, err := a.runJob(ctx, name)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func (a *app) runJob(ctx context.Context, name string) (any, error) {
	switch name {
	case service.NotificationRetryJob:
		limiter, err := a.rateLimiter()
		if err != nil {
			return nil, err
		}
		engine, err := a.notificationEngine(limiter)
		if err != nil {
			return nil, err
		}
		return engine.RunBatch(ctx)
	case service.PaymentRetryJob:
		limiter, err := a.rateLimiter()
		if err != nil {
			return nil, err
		}
		engine, err := a.paymentEngine(limiter)
		if err != nil {
			return nil, err
		}
		return engine.RunBatch(ctx)
	case service.RecoveryMigratorJob:
		migrator, err := a.recoveryMigrator()
		if err != nil {
			return nil, err
		}
		return migrator.Migrate(ctx)
	case service.JanitorJob:
		j, err := a.janitor()
		if err != nil {
			return nil, err
		}
		return j.Clean(ctx)
	default:
		return nil, fmt.Errorf("unknown job %q", name)
	}
}

package cli

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var workerJobs []string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the periodic retry, migration and cleanup jobs",
	Long: `Run every periodic job in one process until interrupted:

  notification_retry   re-send failed notifications on the backoff schedule
  payment_retry        re-broadcast failed payouts, dead-letter exhausted ones
  recovery_migrator    drain fallback rows back into Redis once it is reachable
  janitor              expire admin sessions, purge processed fallback rows

Use --jobs to run a subset.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringSliceVar(&workerJobs, "jobs", nil, "comma separated subset of jobs to run")
}

type scheduledJob struct {
	job      service.Job
	interval time.Duration
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.scheduledJobs(workerJobs)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sj := range jobs {
		runner, err := service.NewRunner(sj.job, sj.interval, a.cfg.RunTimeout(), a.logger)
		if err != nil {
			return err
		}
		runner.SetMetrics(a.metrics)

		g.Go(func() error {
			return runner.Start(gctx)
		})
	}

	a.logger.Info("worker started", zap.Int("jobs", len(jobs)))
	if err := g.Wait(); err != nil {
		a.logger.Error("worker stopped", zap.Error(err))
		return err
	}
	a.logger.Info("worker stopped")
	return nil
}

func (a *app) scheduledJobs(only []string) ([]scheduledJob, error) {
	selected := make(map[string]bool, len(only))
	for _, name := range only {
		if name = strings.TrimSpace(name); name != "" {
			selected[name] = true
		}
	}
	want := func(name string) bool {
		return len(selected) == 0 || selected[name]
	}

	limiter, err := a.rateLimiter()
	if err != nil {
		return nil, err
	}

	var jobs []scheduledJob
	if want(service.NotificationRetryJob) {
		engine, err := a.notificationEngine(limiter)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, scheduledJob{job: engine, interval: a.cfg.NotificationRetryInterval()})
	}
	if want(service.PaymentRetryJob) {
		engine, err := a.paymentEngine(limiter)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, scheduledJob{job: engine, interval: a.cfg.PaymentRetryInterval()})
	}
	if want(service.RecoveryMigratorJob) {
		migrator, err := a.recoveryMigrator()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, scheduledJob{job: migrator, interval: a.cfg.MigratorInterval()})
	}
	if want(service.JanitorJob) {
		j, err := a.janitor()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, scheduledJob{job: j, interval: a.cfg.JanitorInterval()})
	}

	for name := range selected {
		if !isJobName(name) {
			return nil, fmt.Errorf("unknown job %q", name)
		}
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no jobs selected")
	}
	return jobs, nil
}

func isJobName(name string) bool {
	switch name {
	case service.NotificationRetryJob, service.PaymentRetryJob, service.RecoveryMigratorJob, service.JanitorJob:
		return true
	}
	return false
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultRunnerInterval = 30 * time.Second
	defaultRunTimeout     = 5 * time.Minute
)

// Job is one periodic batch task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Runner runs a job immediately and then on every tick until its context ends.
type Runner struct {
	job        Job
	interval   time.Duration
	runTimeout time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
}

func NewRunner(job Job, interval, runTimeout time.Duration, logger *zap.Logger) (*Runner, error) {
	if job == nil {
		return nil, fmt.Errorf("job is required")
	}
	if interval <= 0 {
		interval = defaultRunnerInterval
	}
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		job:        job,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger.With(zap.String("job", job.Name())),
	}, nil
}

func (r *Runner) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *Runner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	r.logger.Info("job runner started", zap.Duration("interval", r.interval))

	if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("initial job run failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopped")
			return nil
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("job run failed", zap.Error(err))
			}
		}
	}
}

// RunOnce executes a single run under the run timeout with a fresh run ID.
func (r *Runner) RunOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()

	runCtx = observability.WithRun(runCtx, r.job.Name(), observability.NewRunID())

	start := time.Now()
	err := r.job.Run(runCtx)
	r.metrics.ObserveBatchRun(r.job.Name(), err, time.Since(start))

	return err
}

package cli

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/kursadbilgin/fallback-engine/internal/config"
	"github.com/kursadbilgin/fallback-engine/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/fallback-engine/internal/infra/redis"
	"github.com/kursadbilgin/fallback-engine/internal/observability"
	"github.com/kursadbilgin/fallback-engine/internal/ratelimit"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"github.com/kursadbilgin/fallback-engine/internal/sender"
	"github.com/kursadbilgin/fallback-engine/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the process-wide dependencies shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	db    *gorm.DB
	sqlDB *sql.DB
	rdb   *goredis.Client
	cache *infraredis.Cache

	notifications *repository.GormFailedNotificationRepo
	payments      *repository.GormPaymentRetryRepo
	fallbacks     *repository.GormFallbackRepo
	states        *repository.GormFsmStateRepo
	sessions      *repository.GormSessionRepo
	users         *repository.GormUserResolver
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("postgres initialization failed", zap.Error(err))
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		_ = sqlDB.Close()
		logger.Error("redis initialization failed", zap.Error(err))
		return nil, err
	}
	cache, err := infraredis.NewCache(rdb, 0)
	if err != nil {
		_ = sqlDB.Close()
		_ = rdb.Close()
		return nil, err
	}

	return &app{
		cfg:           cfg,
		logger:        logger,
		metrics:       observability.NewMetrics(),
		db:            db,
		sqlDB:         sqlDB,
		rdb:           rdb,
		cache:         cache,
		notifications: repository.NewGormFailedNotificationRepo(db),
		payments:      repository.NewGormPaymentRetryRepo(db),
		fallbacks:     repository.NewGormFallbackRepo(db),
		states:        repository.NewGormFsmStateRepo(db),
		sessions:      repository.NewGormSessionRepo(db),
		users:         repository.NewGormUserResolver(db),
	}, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	_ = a.logger.Sync()
}

func (a *app) batchOptions() service.BatchOptions {
	return service.BatchOptions{
		Limit:       a.cfg.BatchSize,
		SendTimeout: a.cfg.SendTimeout(),
		Lease:       a.cfg.ClaimLease(),
		Concurrency: a.cfg.BatchConcurrency,
	}
}

// rateLimiter shares the Redis window across workers and degrades to a
// per-process limiter while Redis is down.
func (a *app) rateLimiter() (ratelimit.RateLimiter, error) {
	limits, err := a.cfg.RateLimits()
	if err != nil {
		return nil, err
	}
	distributed, err := infraredis.NewRedisRateLimiter(a.rdb, limits)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewFallback(distributed, ratelimit.NewLocal(limits), a.logger), nil
}

func (a *app) notificationEngine(limiter ratelimit.RateLimiter) (*service.NotificationRetryEngine, error) {
	policy, err := a.cfg.NotificationPolicy()
	if err != nil {
		return nil, err
	}
	botAPI, err := sender.NewBotAPISender(a.cfg.NotifyAPIURL)
	if err != nil {
		return nil, fmt.Errorf("notification sender: %w", err)
	}

	engine, err := service.NewNotificationRetryEngine(a.notifications, botAPI, policy, a.batchOptions(), a.logger)
	if err != nil {
		return nil, err
	}
	engine.SetMetrics(a.metrics)
	engine.SetRateLimiter(limiter)
	return engine, nil
}

func (a *app) paymentEngine(limiter ratelimit.RateLimiter) (*service.PaymentRetryEngine, error) {
	gateway, err := sender.NewPayoutGatewaySender(a.cfg.PaymentAPIURL)
	if err != nil {
		return nil, fmt.Errorf("payment sender: %w", err)
	}

	engine, err := service.NewPaymentRetryEngine(a.payments, gateway, a.cfg.PaymentBackoff(), a.batchOptions(), a.logger)
	if err != nil {
		return nil, err
	}
	engine.SetMetrics(a.metrics)
	engine.SetRateLimiter(limiter)
	return engine, nil
}

func (a *app) recoveryMigrator() (*service.RecoveryMigrator, error) {
	migrator, err := service.NewRecoveryMigrator(a.fallbacks, a.states, a.cache, a.users, service.MigratorOptions{
		BatchSize:        a.cfg.MigrationBatchSize,
		CriticalPriority: a.cfg.CriticalPriority,
		Freshness:        a.cfg.FsmFreshness(),
		BotID:            a.cfg.BotID,
		Concurrency:      a.cfg.BatchConcurrency,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	migrator.SetMetrics(a.metrics)
	return migrator, nil
}

func (a *app) janitor() (*service.Janitor, error) {
	j, err := service.NewJanitor(a.sessions, a.fallbacks, a.cfg.FallbackRetention(), a.logger)
	if err != nil {
		return nil, err
	}
	j.SetMetrics(a.metrics)
	return j, nil
}

func (a *app) fallbackWriter() (*service.FallbackWriter, error) {
	w, err := service.NewFallbackWriter(a.fallbacks, a.states, a.cache, a.users, service.FallbackWriterOptions{
		CriticalPriority: a.cfg.CriticalPriority,
		BotID:            a.cfg.BotID,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	w.SetMetrics(a.metrics)
	return w, nil
}

func (a *app) failureRecorder() (*service.FailureRecorder, error) {
	return service.NewFailureRecorder(a.notifications, a.payments, a.cfg.PaymentMaxRetries, a.logger)
}

func (a *app) adminService() (*service.AdminService, error) {
	return service.NewAdminService(a.notifications, a.payments, a.fallbacks, a.cfg.PaymentRequeueRetries, a.logger)
}

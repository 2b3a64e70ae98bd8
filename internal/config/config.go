package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/kursadbilgin/fallback-engine/internal/ratelimit"
)

type Config struct {
	DatabaseDSN   string `env:"DATABASE_DSN,required=true"`
	RedisURL      string `env:"REDIS_URL,required=true"`
	NotifyAPIURL  string `env:"NOTIFY_API_URL"`
	PaymentAPIURL string `env:"PAYMENT_API_URL"`
	APIPort       int    `env:"API_PORT,default=8080"`
	LogLevel      string `env:"LOG_LEVEL,default=info"`
	BotID         int64  `env:"BOT_ID,default=0"`

	NotificationMaxRetries     int    `env:"NOTIFICATION_MAX_RETRIES,default=5"`
	NotificationBackoff        string `env:"NOTIFICATION_BACKOFF,default=1m 5m 15m 1h 2h"`
	NotificationRetryIntervalS int    `env:"NOTIFICATION_RETRY_INTERVAL_SEC,default=30"`

	PaymentRetryIntervalS    int     `env:"PAYMENT_RETRY_INTERVAL_SEC,default=300"`
	PaymentMaxRetries        int     `env:"PAYMENT_MAX_RETRIES,default=5"`
	PaymentBackoffInitialS   int     `env:"PAYMENT_BACKOFF_INITIAL_SEC,default=60"`
	PaymentBackoffMaxS       int     `env:"PAYMENT_BACKOFF_MAX_SEC,default=3600"`
	PaymentBackoffMultiplier float64 `env:"PAYMENT_BACKOFF_MULTIPLIER,default=2"`
	PaymentRequeueRetries    int     `env:"PAYMENT_REQUEUE_RETRIES,default=3"`

	MigratorIntervalS      int `env:"MIGRATOR_INTERVAL_SEC,default=15"`
	JanitorIntervalS       int `env:"JANITOR_INTERVAL_SEC,default=600"`
	BatchSize              int `env:"BATCH_SIZE,default=100"`
	MigrationBatchSize     int `env:"MIGRATION_BATCH_SIZE,default=1000"`
	SendTimeoutS           int `env:"SEND_TIMEOUT_SEC,default=10"`
	ClaimLeaseS            int `env:"CLAIM_LEASE_SEC,default=600"`
	RunTimeoutS            int `env:"RUN_TIMEOUT_SEC,default=300"`
	BatchConcurrency       int `env:"BATCH_CONCURRENCY,default=4"`
	NotificationRatePerSec int `env:"NOTIFICATION_RATE_PER_SEC,default=25"`
	PaymentRatePerSec      int `env:"PAYMENT_RATE_PER_SEC,default=5"`
	CriticalPriority       int `env:"CRITICAL_PRIORITY,default=10"`
	FsmFreshnessHours      int `env:"FSM_FRESHNESS_HOURS,default=24"`
	FallbackRetentionHours int `env:"FALLBACK_RETENTION_HOURS,default=168"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := cfg.NotificationPolicy(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.PaymentBackoff().Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.CriticalPriority <= 0 {
		return nil, fmt.Errorf("failed to load config: CRITICAL_PRIORITY must be positive (got %d)", cfg.CriticalPriority)
	}
	if _, err := cfg.RateLimits(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// NotificationPolicy parses NOTIFICATION_BACKOFF, a space separated list of Go
// durations (commas are reserved by the env tag syntax).
func (c *Config) NotificationPolicy() (domain.RetryPolicy, error) {
	fields := strings.Fields(strings.ReplaceAll(c.NotificationBackoff, ",", " "))
	schedule := make([]time.Duration, 0, len(fields))
	for _, f := range fields {
		d, err := time.ParseDuration(f)
		if err != nil {
			return domain.RetryPolicy{}, fmt.Errorf("invalid NOTIFICATION_BACKOFF step %q: %w", f, err)
		}
		schedule = append(schedule, d)
	}

	policy := domain.RetryPolicy{MaxRetries: c.NotificationMaxRetries, Backoff: schedule}
	if err := policy.Validate(); err != nil {
		return domain.RetryPolicy{}, err
	}
	return policy, nil
}

func (c *Config) PaymentBackoff() domain.PaymentBackoff {
	return domain.PaymentBackoff{
		InitialInterval: seconds(c.PaymentBackoffInitialS),
		MaxInterval:     seconds(c.PaymentBackoffMaxS),
		Multiplier:      c.PaymentBackoffMultiplier,
	}
}

// RateLimits returns the per-second send budget of each outbound channel.
func (c *Config) RateLimits() (ratelimit.Limits, error) {
	limits := ratelimit.Limits{
		ratelimit.ScopeNotifications: c.NotificationRatePerSec,
		ratelimit.ScopePayments:      c.PaymentRatePerSec,
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return limits, nil
}

func (c *Config) NotificationRetryInterval() time.Duration {
	return seconds(c.NotificationRetryIntervalS)
}

func (c *Config) PaymentRetryInterval() time.Duration { return seconds(c.PaymentRetryIntervalS) }

func (c *Config) MigratorInterval() time.Duration { return seconds(c.MigratorIntervalS) }

func (c *Config) JanitorInterval() time.Duration { return seconds(c.JanitorIntervalS) }

func (c *Config) SendTimeout() time.Duration { return seconds(c.SendTimeoutS) }

func (c *Config) ClaimLease() time.Duration { return seconds(c.ClaimLeaseS) }

func (c *Config) RunTimeout() time.Duration { return seconds(c.RunTimeoutS) }

func (c *Config) FsmFreshness() time.Duration {
	return time.Duration(c.FsmFreshnessHours) * time.Hour
}

func (c *Config) FallbackRetention() time.Duration {
	return time.Duration(c.FallbackRetentionHours) * time.Hour
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/kursadbilgin/fallback-engine/internal/observability"
	"github.com/kursadbilgin/fallback-engine/internal/queue"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	RecoveryMigratorJob = "recovery_migrator"

	StreamNotifications = "notifications"
	StreamStates        = "states"

	defaultMigrationBatchSize = 1000
	defaultFsmFreshness       = 24 * time.Hour
)

// UserResolver maps an internal user to the chat coordinates the bot stores state under.
// Unknown users resolve to domain.ErrNotFound.
type UserResolver interface {
	Resolve(ctx context.Context, userID int64) (domain.ConversationRef, error)
}

type RowOutcome string

const (
	RowMigrated RowOutcome = "migrated"
	RowSkipped  RowOutcome = "skipped"
	RowFailed   RowOutcome = "failed"
)

// RowResult is the outcome of migrating one durable row.
type RowResult struct {
	ID      string     `json:"id"`
	Outcome RowOutcome `json:"outcome"`
	Reason  string     `json:"reason,omitempty"`
}

type StreamResult struct {
	Migrated int         `json:"migrated"`
	Skipped  int         `json:"skipped"`
	Failed   int         `json:"failed"`
	Rows     []RowResult `json:"rows,omitempty"`
}

func (r *StreamResult) add(row RowResult) {
	switch row.Outcome {
	case RowMigrated:
		r.Migrated++
	case RowFailed:
		r.Failed++
	default:
		r.Skipped++
	}
	r.Rows = append(r.Rows, row)
}

// MigrationResult reports one migrator run. Reachable is false when the primary
// cache was down and nothing was attempted.
type MigrationResult struct {
	Reachable     bool         `json:"reachable"`
	Notifications StreamResult `json:"notifications"`
	States        StreamResult `json:"states"`
}

type MigratorOptions struct {
	BatchSize        int
	CriticalPriority int
	Freshness        time.Duration
	BotID            int64
	Concurrency      int
}

func (o MigratorOptions) withDefaults() MigratorOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultMigrationBatchSize
	}
	if o.CriticalPriority <= 0 {
		o.CriticalPriority = queue.DefaultCriticalPriority
	}
	if o.Freshness <= 0 {
		o.Freshness = defaultFsmFreshness
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultBatchConcurrency
	}
	return o
}

// RecoveryMigrator moves rows written while the primary cache was down back into it.
type RecoveryMigrator struct {
	fallbacks repository.FallbackRepository
	states    repository.FsmStateRepository
	cache     queue.PrimaryCache
	resolver  UserResolver
	opts      MigratorOptions
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewRecoveryMigrator(
	fallbacks repository.FallbackRepository,
	states repository.FsmStateRepository,
	cache queue.PrimaryCache,
	resolver UserResolver,
	opts MigratorOptions,
	logger *zap.Logger,
) (*RecoveryMigrator, error) {
	if fallbacks == nil {
		return nil, fmt.Errorf("fallback repository is required")
	}
	if states == nil {
		return nil, fmt.Errorf("fsm state repository is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("primary cache is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("user resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RecoveryMigrator{
		fallbacks: fallbacks,
		states:    states,
		cache:     cache,
		resolver:  resolver,
		opts:      opts.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (m *RecoveryMigrator) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

func (m *RecoveryMigrator) Name() string { return RecoveryMigratorJob }

func (m *RecoveryMigrator) Run(ctx context.Context) error {
	_, err := m.Migrate(ctx)
	return err
}

// Migrate drains both streams once. Row failures stay in the durable store for the
// next run and are reported in the result, not as an error.
func (m *RecoveryMigrator) Migrate(ctx context.Context) (MigrationResult, error) {
	logger := observability.WithContextLogger(m.logger, ctx)

	reachable := m.cache.IsReachable(ctx)
	m.metrics.SetPrimaryCacheReachable(reachable)
	if !reachable {
		logger.Debug("primary cache unreachable, migration skipped")
		return MigrationResult{Reachable: false}, nil
	}

	result := MigrationResult{Reachable: true}

	notifications, notifErr := m.migrateNotifications(ctx)
	result.Notifications = notifications
	m.observe(StreamNotifications, notifications)

	states, stateErr := m.migrateStates(ctx)
	result.States = states
	m.observe(StreamStates, states)

	logger.Info("recovery migration finished",
		zap.Int("notificationsMigrated", notifications.Migrated),
		zap.Int("notificationsSkipped", notifications.Skipped),
		zap.Int("notificationsFailed", notifications.Failed),
		zap.Int("statesMigrated", states.Migrated),
		zap.Int("statesSkipped", states.Skipped),
		zap.Int("statesFailed", states.Failed),
	)

	return result, errors.Join(notifErr, stateErr, ctx.Err())
}

// migrateNotifications pushes pending rows one at a time so the bucket lists keep
// the durable priority order.
func (m *RecoveryMigrator) migrateNotifications(ctx context.Context) (StreamResult, error) {
	var result StreamResult

	pending, err := m.fallbacks.ListPending(ctx, m.opts.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list pending fallback notifications: %w", err)
	}

	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		result.add(m.migrateNotification(ctx, &pending[i]))
	}
	return result, nil
}

func (m *RecoveryMigrator) migrateNotification(ctx context.Context, item *domain.FallbackNotification) RowResult {
	logger := observability.WithContextLogger(m.logger, ctx).With(
		zap.String("fallbackId", item.ID),
		zap.Int64("recipientId", item.RecipientID),
		zap.Int("priority", item.Priority),
	)

	envelope := queue.NotificationEnvelope{
		ID:          item.ID,
		RecipientID: item.RecipientID,
		Category:    item.Category,
		Priority:    item.Priority,
		Payload:     item.Payload,
		EnqueuedAt:  item.CreatedAt,
	}
	body, err := envelope.Marshal()
	if err != nil {
		return m.failNotification(ctx, logger, item.ID, fmt.Errorf("encode envelope: %w", err))
	}

	bucket := queue.BucketFor(item.Priority, m.opts.CriticalPriority)
	if err := m.cache.Push(ctx, queue.BucketKey(bucket), body); err != nil {
		return m.failNotification(ctx, logger, item.ID, fmt.Errorf("push to %s bucket: %w", bucket, err))
	}

	marked, err := m.fallbacks.MarkProcessed(context.WithoutCancel(ctx), item.ID, m.now().UTC())
	if err != nil {
		// The item is already in the primary queue; the next run pushes it again.
		logger.Error("fallback notification pushed but not marked processed", zap.Error(err))
		return RowResult{ID: item.ID, Outcome: RowFailed, Reason: truncateError(err)}
	}
	if !marked {
		return RowResult{ID: item.ID, Outcome: RowSkipped, Reason: "already processed"}
	}

	return RowResult{ID: item.ID, Outcome: RowMigrated}
}

func (m *RecoveryMigrator) failNotification(ctx context.Context, logger *zap.Logger, id string, cause error) RowResult {
	reason := truncateError(cause)
	if err := m.fallbacks.RecordFailure(context.WithoutCancel(ctx), id, reason); err != nil {
		logger.Error("failed to record fallback migration failure", zap.Error(err))
	}
	logger.Warn("fallback notification migration failed", zap.Error(cause))
	return RowResult{ID: id, Outcome: RowFailed, Reason: reason}
}

func (m *RecoveryMigrator) migrateStates(ctx context.Context) (StreamResult, error) {
	var result StreamResult

	since := m.now().UTC().Add(-m.opts.Freshness)
	fresh, err := m.states.ListFresh(ctx, since, m.opts.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list fresh fsm states: %w", err)
	}
	if len(fresh) == 0 {
		return result, nil
	}

	p := pool.NewWithResults[RowResult]().WithMaxGoroutines(m.opts.Concurrency)
	for _, state := range fresh {
		p.Go(func() RowResult {
			if ctx.Err() != nil {
				return RowResult{ID: state.ID, Outcome: RowSkipped, Reason: "aborted"}
			}
			return m.migrateState(ctx, state)
		})
	}
	for _, row := range p.Wait() {
		result.add(row)
	}
	return result, nil
}

func (m *RecoveryMigrator) migrateState(ctx context.Context, state domain.FsmState) RowResult {
	logger := observability.WithContextLogger(m.logger, ctx).With(
		zap.String("stateId", state.ID),
		zap.Int64("userId", state.UserID),
	)

	if !state.NeedsMigration() {
		return RowResult{ID: state.ID, Outcome: RowSkipped, Reason: "up to date"}
	}

	ref, err := m.resolver.Resolve(ctx, state.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Debug("fsm state owner not resolvable, skipped")
		return RowResult{ID: state.ID, Outcome: RowSkipped, Reason: "user not resolvable"}
	}
	if err != nil {
		logger.Warn("failed to resolve fsm state owner", zap.Error(err))
		return RowResult{ID: state.ID, Outcome: RowFailed, Reason: truncateError(err)}
	}

	key := queue.ConversationKey(m.opts.BotID, ref.ChatID, ref.UserID)
	if err := m.cache.SetConversationState(ctx, key, state.State, state.Data); err != nil {
		logger.Warn("fsm state migration failed", zap.String("key", key), zap.Error(err))
		return RowResult{ID: state.ID, Outcome: RowFailed, Reason: truncateError(err)}
	}

	if err := m.states.MarkMigrated(context.WithoutCancel(ctx), state.ID, m.now().UTC()); err != nil {
		// Rewriting the same state on the next run is harmless.
		logger.Warn("fsm state migrated but not marked", zap.Error(err))
	}
	return RowResult{ID: state.ID, Outcome: RowMigrated}
}

func (m *RecoveryMigrator) observe(stream string, r StreamResult) {
	m.metrics.AddMigratedRows(stream, string(RowMigrated), r.Migrated)
	m.metrics.AddMigratedRows(stream, string(RowSkipped), r.Skipped)
	m.metrics.AddMigratedRows(stream, string(RowFailed), r.Failed)
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/kursadbilgin/fallback-engine/internal/observability"
	"github.com/kursadbilgin/fallback-engine/internal/queue"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	writeKindNotification = "notification"
	writeKindState        = "state"

	writeTargetPrimary = "primary"
	writeTargetDurable = "durable"
)

type FallbackWriterOptions struct {
	CriticalPriority int
	BotID            int64
}

// FallbackWriter persists queue items and conversation state to the durable store
// while the primary cache is unavailable.
type FallbackWriter struct {
	fallbacks repository.FallbackRepository
	states    repository.FsmStateRepository
	cache     queue.PrimaryCache
	resolver  UserResolver
	opts      FallbackWriterOptions
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewFallbackWriter wires the writer. cache and resolver may be nil, in which case
// every write goes to the durable store.
func NewFallbackWriter(
	fallbacks repository.FallbackRepository,
	states repository.FsmStateRepository,
	cache queue.PrimaryCache,
	resolver UserResolver,
	opts FallbackWriterOptions,
	logger *zap.Logger,
) (*FallbackWriter, error) {
	if fallbacks == nil {
		return nil, fmt.Errorf("fallback repository is required")
	}
	if states == nil {
		return nil, fmt.Errorf("fsm state repository is required")
	}
	if opts.CriticalPriority <= 0 {
		opts.CriticalPriority = queue.DefaultCriticalPriority
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FallbackWriter{
		fallbacks: fallbacks,
		states:    states,
		cache:     cache,
		resolver:  resolver,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (w *FallbackWriter) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Enqueue stores a notification queue item durably. It only fails when the durable
// store itself is unavailable. Duplicate items are accepted.
func (w *FallbackWriter) Enqueue(ctx context.Context, recipientID int64, category string, payload map[string]any, priority int) (*domain.FallbackNotification, error) {
	item := &domain.FallbackNotification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Category:    strings.TrimSpace(category),
		Payload:     payload,
		Priority:    priority,
		CreatedAt:   w.now().UTC(),
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	if err := w.fallbacks.Enqueue(ctx, item); err != nil {
		w.logger.Error("fallback enqueue failed, notification lost",
			zap.Int64("recipientId", recipientID),
			zap.String("category", item.Category),
			zap.Int("priority", priority),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to enqueue fallback notification: %w", err)
	}

	w.metrics.IncFallbackWrite(writeKindNotification, writeTargetDurable)
	w.logger.Warn("notification written to fallback queue",
		zap.String("fallbackId", item.ID),
		zap.Int64("recipientId", recipientID),
		zap.String("category", item.Category),
		zap.Int("priority", priority),
	)
	return item, nil
}

// SaveState upserts the durable copy of a user's conversation state.
func (w *FallbackWriter) SaveState(ctx context.Context, userID int64, state *string, data map[string]any) (*domain.FsmState, error) {
	if userID == 0 {
		return nil, fmt.Errorf("%w: user is required", domain.ErrValidation)
	}

	s := &domain.FsmState{
		ID:     uuid.NewString(),
		UserID: userID,
		State:  state,
		Data:   data,
	}
	if err := w.states.Save(ctx, s); err != nil {
		w.logger.Error("fallback state save failed",
			zap.Int64("userId", userID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to save fsm state: %w", err)
	}

	w.metrics.IncFallbackWrite(writeKindState, writeTargetDurable)
	return s, nil
}

// PushOrFallback pushes the item to its primary bucket and falls back to the durable
// queue when the push fails.
func (w *FallbackWriter) PushOrFallback(ctx context.Context, recipientID int64, category string, payload map[string]any, priority int) error {
	if w.cache != nil {
		envelope := queue.NotificationEnvelope{
			ID:          uuid.NewString(),
			RecipientID: recipientID,
			Category:    strings.TrimSpace(category),
			Priority:    priority,
			Payload:     payload,
			EnqueuedAt:  w.now().UTC(),
		}
		body, err := envelope.Marshal()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}

		bucket := queue.BucketFor(priority, w.opts.CriticalPriority)
		pushErr := w.cache.Push(ctx, queue.BucketKey(bucket), body)
		if pushErr == nil {
			w.metrics.IncFallbackWrite(writeKindNotification, writeTargetPrimary)
			return nil
		}
		w.logger.Warn("primary queue push failed, using fallback",
			zap.Int64("recipientId", recipientID),
			zap.String("bucket", string(bucket)),
			zap.Error(pushErr),
		)
	}

	_, err := w.Enqueue(ctx, recipientID, category, payload, priority)
	return err
}

// SetStateOrFallback writes conversation state to the primary cache and keeps a
// durable copy when that write fails or the conversation cannot be addressed.
func (w *FallbackWriter) SetStateOrFallback(ctx context.Context, userID int64, state *string, data map[string]any) error {
	if w.cache != nil && w.resolver != nil {
		ref, err := w.resolver.Resolve(ctx, userID)
		if err == nil {
			key := queue.ConversationKey(w.opts.BotID, ref.ChatID, ref.UserID)
			setErr := w.cache.SetConversationState(ctx, key, state, data)
			if setErr == nil {
				w.metrics.IncFallbackWrite(writeKindState, writeTargetPrimary)
				return nil
			}
			w.logger.Warn("primary state write failed, using fallback",
				zap.Int64("userId", userID),
				zap.Error(setErr),
			)
		} else {
			w.logger.Warn("conversation not resolvable, using fallback",
				zap.Int64("userId", userID),
				zap.Error(err),
			)
		}
	}

	_, err := w.SaveState(ctx, userID, state, data)
	return err
}

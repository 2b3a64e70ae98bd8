package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/kursadbilgin/fallback-engine/internal/observability"
	"github.com/kursadbilgin/fallback-engine/internal/ratelimit"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"github.com/kursadbilgin/fallback-engine/internal/sender"
	"go.uber.org/zap"
)

const (
	PaymentRetryJob = "payment_retry"

	detailAmbiguousSuccess   = "ambiguous_success"
	detailUnpersistedSuccess = "unpersisted_success"

	persistMaxTries = 5
)

// errMissingTxReference marks a broadcast that reported success without a transaction
// reference. The payout may or may not have happened, so an operator must check it.
var errMissingTxReference = errors.New("payment reported success without a transaction reference")

// PaymentRetryEngine re-broadcasts failed payouts with exponential backoff and moves
// exhausted or rejected payouts to the dead-letter queue.
type PaymentRetryEngine struct {
	payments    repository.PaymentRetryRepository
	sender      sender.PaymentSender
	curve       domain.PaymentBackoff
	opts        BatchOptions
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time

	// persistBackOff paces retries of outcome writes after a broadcast.
	persistBackOff func() backoff.BackOff
}

func NewPaymentRetryEngine(
	payments repository.PaymentRetryRepository,
	paymentSender sender.PaymentSender,
	curve domain.PaymentBackoff,
	opts BatchOptions,
	logger *zap.Logger,
) (*PaymentRetryEngine, error) {
	if payments == nil {
		return nil, fmt.Errorf("payment retry repository is required")
	}
	if paymentSender == nil {
		return nil, fmt.Errorf("payment sender is required")
	}
	if err := curve.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payment backoff: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PaymentRetryEngine{
		payments: payments,
		sender:   paymentSender,
		curve:    curve,
		opts:     opts.withDefaults(),
		logger:   logger,
		now:      time.Now,

		persistBackOff: defaultPersistBackOff,
	}, nil
}

func defaultPersistBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	return eb
}

func (e *PaymentRetryEngine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

func (e *PaymentRetryEngine) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if e == nil {
		return
	}
	e.rateLimiter = limiter
}

func (e *PaymentRetryEngine) Name() string { return PaymentRetryJob }

func (e *PaymentRetryEngine) Run(ctx context.Context) error {
	_, err := e.RunBatch(ctx)
	return err
}

func (e *PaymentRetryEngine) RunBatch(ctx context.Context) (BatchResult, error) {
	logger := observability.WithContextLogger(e.logger, ctx)

	claimed, err := e.payments.ClaimDue(ctx, repository.PaymentClaimParams{
		Now:   e.now().UTC(),
		Lease: e.opts.Lease,
		Limit: e.opts.Limit,
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to claim payments: %w", err)
	}

	var result BatchResult
	for _, outcome := range runItems(ctx, e.opts.Concurrency, claimed, e.retry) {
		result.record(outcome)
	}
	result.observe(PaymentRetryJob, e.metrics)

	logger.Info("payment retry batch finished", result.fields()...)
	return result, ctx.Err()
}

func (e *PaymentRetryEngine) retry(ctx context.Context, p domain.PaymentRetry) itemOutcome {
	reference := p.Reference()
	logger := observability.WithContextLogger(e.logger, ctx).With(
		zap.String("paymentId", p.ID),
		zap.Int64("recipientId", p.RecipientID),
		zap.String("amount", p.Amount.String()),
		zap.String("paymentType", p.PaymentType.String()),
		zap.String("reference", reference),
		zap.Int("attempt", p.AttemptCount+1),
	)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.Wait(ctx, ratelimit.ScopePayments); err != nil {
			if ctx.Err() != nil {
				return outcomeSkipped
			}
			logger.Warn("rate limiter wait failed, sending anyway", zap.Error(err))
		}
	}

	start := e.now()
	txReference, sendErr := callWithTimeout(ctx, e.opts.SendTimeout, func(sendCtx context.Context) (string, error) {
		return e.sender.SendPayment(sendCtx, p.RecipientID, p.Amount, reference)
	})
	e.metrics.ObserveSendDuration(PaymentRetryJob, e.now().Sub(start))

	txReference = strings.TrimSpace(txReference)
	if sendErr == nil && txReference == "" {
		sendErr = errMissingTxReference
	}

	persistCtx := context.WithoutCancel(ctx)
	finishedAt := e.now().UTC()

	if sendErr == nil {
		return e.resolve(persistCtx, logger, p.ID, txReference, finishedAt)
	}

	attempts := p.AttemptCount + 1
	exhausted := attempts >= p.RetryCeiling() ||
		sender.IsPermanent(sendErr) ||
		errors.Is(sendErr, errMissingTxReference)

	e.metrics.IncSendFailure(PaymentRetryJob, sender.ErrorCode(sendErr))

	detail := sender.ErrorCode(sendErr)
	if errors.Is(sendErr, errMissingTxReference) {
		detail = detailAmbiguousSuccess
	}
	err := e.persist(persistCtx, func() error {
		return e.payments.RecordFailure(persistCtx, p.ID, repository.PaymentFailure{
			LastError:   truncateError(sendErr),
			ErrorDetail: &detail,
			Now:         finishedAt,
			NextRetryAt: finishedAt.Add(e.retryDelay(attempts, sendErr)),
			MoveToDLQ:   exhausted,
		})
	})
	if err != nil {
		logger.Error("failed to record payment failure", zap.Error(err), zap.NamedError("sendError", sendErr))
		return outcomeFailed
	}

	if exhausted {
		e.metrics.IncDLQEntry(PaymentRetryJob)
		logger.Error("payment moved to dead-letter queue", zap.String("detail", detail), zap.Error(sendErr))
		return outcomeGaveUp
	}

	logger.Warn("payment retry failed", zap.Error(sendErr))
	return outcomeFailed
}

// resolve records a broadcast payout. A row that stays claimable would be broadcast
// again once its lease ends, so when the resolve cannot be written the row is parked
// in the dead-letter queue together with its tx reference.
func (e *PaymentRetryEngine) resolve(ctx context.Context, logger *zap.Logger, id, txReference string, now time.Time) itemOutcome {
	logger = logger.With(zap.String("txReference", txReference))

	resolveErr := e.persist(ctx, func() error {
		return e.payments.MarkSucceeded(ctx, id, txReference, now)
	})
	if resolveErr == nil {
		logger.Info("payment retry succeeded")
		return outcomeSuccessful
	}
	logger.Error("payment broadcast but resolve failed", zap.Error(resolveErr))

	detail := detailUnpersistedSuccess
	parkErr := e.persist(ctx, func() error {
		return e.payments.RecordFailure(ctx, id, repository.PaymentFailure{
			LastError:   truncateError(fmt.Errorf("broadcast as %s but resolve failed: %w", txReference, resolveErr)),
			ErrorDetail: &detail,
			TxReference: &txReference,
			Now:         now,
			MoveToDLQ:   true,
		})
	})
	if parkErr != nil {
		logger.Error("broadcast payment could not be parked and may be broadcast again", zap.Error(parkErr))
		return outcomeSuccessful
	}

	e.metrics.IncDLQEntry(PaymentRetryJob)
	logger.Error("payment moved to dead-letter queue", zap.String("detail", detail))
	return outcomeGaveUp
}

// persist retries a row write. ErrNotFound means the row left the retry pool and is
// not retried.
func (e *PaymentRetryEngine) persist(ctx context.Context, write func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := write()
		if errors.Is(err, domain.ErrNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(e.persistBackOff()), backoff.WithMaxTries(persistMaxTries))
	return err
}

// retryDelay follows the backoff curve but never retries sooner than the channel asked.
func (e *PaymentRetryEngine) retryDelay(attempts int, sendErr error) time.Duration {
	delay := e.curve.Delay(attempts)

	var providerErr *sender.ProviderError
	if errors.As(sendErr, &providerErr) && providerErr.RetryAfter > delay {
		delay = providerErr.RetryAfter
	}
	return delay
}

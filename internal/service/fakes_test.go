package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/kursadbilgin/fallback-engine/internal/queue"
	"github.com/kursadbilgin/fallback-engine/internal/ratelimit"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"github.com/kursadbilgin/fallback-engine/internal/sender"
	"github.com/shopspring/decimal"
)

type fakeFailedNotificationRepo struct {
	createFn         func(ctx context.Context, n *domain.FailedNotification) error
	getByIDFn        func(ctx context.Context, id string) (*domain.FailedNotification, error)
	claimDueFn       func(ctx context.Context, params repository.ClaimParams, isDue func(*domain.FailedNotification) bool) ([]domain.FailedNotification, int, error)
	markResolvedFn   func(ctx context.Context, id string, now time.Time) error
	recordFailureFn  func(ctx context.Context, id string, update repository.FailureUpdate) error
	listUnresolvedFn func(ctx context.Context, criticalOnly bool, limit int) ([]domain.FailedNotification, error)
	listDLQFn        func(ctx context.Context, limit int) ([]domain.FailedNotification, error)
	countPendingFn   func(ctx context.Context) (int64, error)
	countDLQFn       func(ctx context.Context) (int64, error)
}

func (f *fakeFailedNotificationRepo) Create(ctx context.Context, n *domain.FailedNotification) error {
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	return nil
}

func (f *fakeFailedNotificationRepo) GetByID(ctx context.Context, id string) (*domain.FailedNotification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeFailedNotificationRepo) ClaimDue(ctx context.Context, params repository.ClaimParams, isDue func(*domain.FailedNotification) bool) ([]domain.FailedNotification, int, error) {
	if f.claimDueFn != nil {
		return f.claimDueFn(ctx, params, isDue)
	}
	return nil, 0, nil
}

func (f *fakeFailedNotificationRepo) MarkResolved(ctx context.Context, id string, now time.Time) error {
	if f.markResolvedFn != nil {
		return f.markResolvedFn(ctx, id, now)
	}
	return nil
}

func (f *fakeFailedNotificationRepo) RecordFailure(ctx context.Context, id string, update repository.FailureUpdate) error {
	if f.recordFailureFn != nil {
		return f.recordFailureFn(ctx, id, update)
	}
	return nil
}

func (f *fakeFailedNotificationRepo) ListUnresolved(ctx context.Context, criticalOnly bool, limit int) ([]domain.FailedNotification, error) {
	if f.listUnresolvedFn != nil {
		return f.listUnresolvedFn(ctx, criticalOnly, limit)
	}
	return nil, nil
}

func (f *fakeFailedNotificationRepo) ListDLQ(ctx context.Context, limit int) ([]domain.FailedNotification, error) {
	if f.listDLQFn != nil {
		return f.listDLQFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeFailedNotificationRepo) CountPending(ctx context.Context) (int64, error) {
	if f.countPendingFn != nil {
		return f.countPendingFn(ctx)
	}
	return 0, nil
}

func (f *fakeFailedNotificationRepo) CountDLQ(ctx context.Context) (int64, error) {
	if f.countDLQFn != nil {
		return f.countDLQFn(ctx)
	}
	return 0, nil
}

type fakePaymentRetryRepo struct {
	createFn        func(ctx context.Context, p *domain.PaymentRetry) error
	getByIDFn       func(ctx context.Context, id string) (*domain.PaymentRetry, error)
	claimDueFn      func(ctx context.Context, params repository.PaymentClaimParams) ([]domain.PaymentRetry, error)
	markSucceededFn func(ctx context.Context, id, txReference string, now time.Time) error
	recordFailureFn func(ctx context.Context, id string, failure repository.PaymentFailure) error
	listDLQFn       func(ctx context.Context, limit int) ([]domain.PaymentRetry, error)
	requeueFn       func(ctx context.Context, id string, extraRetries int, now time.Time) (*domain.PaymentRetry, error)
	countPendingFn  func(ctx context.Context) (int64, error)
	countDLQFn      func(ctx context.Context) (int64, error)
}

func (f *fakePaymentRetryRepo) Create(ctx context.Context, p *domain.PaymentRetry) error {
	if f.createFn != nil {
		return f.createFn(ctx, p)
	}
	return nil
}

func (f *fakePaymentRetryRepo) GetByID(ctx context.Context, id string) (*domain.PaymentRetry, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakePaymentRetryRepo) ClaimDue(ctx context.Context, params repository.PaymentClaimParams) ([]domain.PaymentRetry, error) {
	if f.claimDueFn != nil {
		return f.claimDueFn(ctx, params)
	}
	return nil, nil
}

func (f *fakePaymentRetryRepo) MarkSucceeded(ctx context.Context, id, txReference string, now time.Time) error {
	if f.markSucceededFn != nil {
		return f.markSucceededFn(ctx, id, txReference, now)
	}
	return nil
}

func (f *fakePaymentRetryRepo) RecordFailure(ctx context.Context, id string, failure repository.PaymentFailure) error {
	if f.recordFailureFn != nil {
		return f.recordFailureFn(ctx, id, failure)
	}
	return nil
}

func (f *fakePaymentRetryRepo) ListDLQ(ctx context.Context, limit int) ([]domain.PaymentRetry, error) {
	if f.listDLQFn != nil {
		return f.listDLQFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakePaymentRetryRepo) Requeue(ctx context.Context, id string, extraRetries int, now time.Time) (*domain.PaymentRetry, error) {
	if f.requeueFn != nil {
		return f.requeueFn(ctx, id, extraRetries, now)
	}
	return nil, domain.ErrNotFound
}

func (f *fakePaymentRetryRepo) CountPending(ctx context.Context) (int64, error) {
	if f.countPendingFn != nil {
		return f.countPendingFn(ctx)
	}
	return 0, nil
}

func (f *fakePaymentRetryRepo) CountDLQ(ctx context.Context) (int64, error) {
	if f.countDLQFn != nil {
		return f.countDLQFn(ctx)
	}
	return 0, nil
}

type fakeFallbackRepo struct {
	enqueueFn       func(ctx context.Context, item *domain.FallbackNotification) error
	listPendingFn   func(ctx context.Context, limit int) ([]domain.FallbackNotification, error)
	markProcessedFn func(ctx context.Context, id string, now time.Time) (bool, error)
	recordFailureFn func(ctx context.Context, id string, errMsg string) error
	countPendingFn  func(ctx context.Context) (int64, error)
	purgeFn         func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (f *fakeFallbackRepo) Enqueue(ctx context.Context, item *domain.FallbackNotification) error {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, item)
	}
	return nil
}

func (f *fakeFallbackRepo) ListPending(ctx context.Context, limit int) ([]domain.FallbackNotification, error) {
	if f.listPendingFn != nil {
		return f.listPendingFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeFallbackRepo) MarkProcessed(ctx context.Context, id string, now time.Time) (bool, error) {
	if f.markProcessedFn != nil {
		return f.markProcessedFn(ctx, id, now)
	}
	return true, nil
}

func (f *fakeFallbackRepo) RecordFailure(ctx context.Context, id string, errMsg string) error {
	if f.recordFailureFn != nil {
		return f.recordFailureFn(ctx, id, errMsg)
	}
	return nil
}

func (f *fakeFallbackRepo) CountPending(ctx context.Context) (int64, error) {
	if f.countPendingFn != nil {
		return f.countPendingFn(ctx)
	}
	return 0, nil
}

func (f *fakeFallbackRepo) PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.purgeFn != nil {
		return f.purgeFn(ctx, cutoff)
	}
	return 0, nil
}

type fakeFsmStateRepo struct {
	saveFn         func(ctx context.Context, s *domain.FsmState) error
	getFn          func(ctx context.Context, userID int64) (*domain.FsmState, error)
	listFreshFn    func(ctx context.Context, since time.Time, limit int) ([]domain.FsmState, error)
	markMigratedFn func(ctx context.Context, id string, at time.Time) error
}

func (f *fakeFsmStateRepo) Save(ctx context.Context, s *domain.FsmState) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, s)
	}
	return nil
}

func (f *fakeFsmStateRepo) Get(ctx context.Context, userID int64) (*domain.FsmState, error) {
	if f.getFn != nil {
		return f.getFn(ctx, userID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeFsmStateRepo) ListFresh(ctx context.Context, since time.Time, limit int) ([]domain.FsmState, error) {
	if f.listFreshFn != nil {
		return f.listFreshFn(ctx, since, limit)
	}
	return nil, nil
}

func (f *fakeFsmStateRepo) MarkMigrated(ctx context.Context, id string, at time.Time) error {
	if f.markMigratedFn != nil {
		return f.markMigratedFn(ctx, id, at)
	}
	return nil
}

type fakeSessionRepo struct {
	createFn            func(ctx context.Context, s *domain.AdminSession) error
	deactivateExpiredFn func(ctx context.Context, now time.Time) (int64, error)
}

func (f *fakeSessionRepo) Create(ctx context.Context, s *domain.AdminSession) error {
	if f.createFn != nil {
		return f.createFn(ctx, s)
	}
	return nil
}

func (f *fakeSessionRepo) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	if f.deactivateExpiredFn != nil {
		return f.deactivateExpiredFn(ctx, now)
	}
	return 0, nil
}

type fakeNotificationSender struct {
	sendFn func(ctx context.Context, recipientID int64, message string) error
}

func (f *fakeNotificationSender) SendNotification(ctx context.Context, recipientID int64, message string) error {
	if f.sendFn != nil {
		return f.sendFn(ctx, recipientID, message)
	}
	return nil
}

type fakePaymentSender struct {
	sendFn func(ctx context.Context, recipientID int64, amount decimal.Decimal, reference string) (string, error)
}

func (f *fakePaymentSender) SendPayment(ctx context.Context, recipientID int64, amount decimal.Decimal, reference string) (string, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, recipientID, amount, reference)
	}
	return "tx-" + reference, nil
}

type fakeCache struct {
	pushFn      func(ctx context.Context, queueKey string, payload []byte) error
	reachableFn func(ctx context.Context) bool
	setStateFn  func(ctx context.Context, key string, state *string, data map[string]any) error
}

func (f *fakeCache) Push(ctx context.Context, queueKey string, payload []byte) error {
	if f.pushFn != nil {
		return f.pushFn(ctx, queueKey, payload)
	}
	return nil
}

func (f *fakeCache) IsReachable(ctx context.Context) bool {
	if f.reachableFn != nil {
		return f.reachableFn(ctx)
	}
	return true
}

func (f *fakeCache) SetConversationState(ctx context.Context, key string, state *string, data map[string]any) error {
	if f.setStateFn != nil {
		return f.setStateFn(ctx, key, state, data)
	}
	return nil
}

type fakeResolver struct {
	resolveFn func(ctx context.Context, userID int64) (domain.ConversationRef, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, userID int64) (domain.ConversationRef, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, userID)
	}
	return domain.ConversationRef{ChatID: userID, UserID: userID}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, scope string) (bool, error)
	waitFn  func(ctx context.Context, scope string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, scope)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

var (
	_ repository.FailedNotificationRepository = (*fakeFailedNotificationRepo)(nil)
	_ repository.PaymentRetryRepository       = (*fakePaymentRetryRepo)(nil)
	_ repository.FallbackRepository           = (*fakeFallbackRepo)(nil)
	_ repository.FsmStateRepository           = (*fakeFsmStateRepo)(nil)
	_ repository.SessionRepository            = (*fakeSessionRepo)(nil)
	_ sender.NotificationSender               = (*fakeNotificationSender)(nil)
	_ sender.PaymentSender                    = (*fakePaymentSender)(nil)
	_ queue.PrimaryCache                      = (*fakeCache)(nil)
	_ UserResolver                            = (*fakeResolver)(nil)
	_ ratelimit.RateLimiter                   = (*fakeRateLimiter)(nil)
)

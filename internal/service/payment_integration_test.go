package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/kursadbilgin/fallback-engine/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// flakyResolveRepo fails the first resolveFailures MarkSucceeded calls.
type flakyResolveRepo struct {
	*repository.GormPaymentRetryRepo
	resolveFailures int
}

func (r *flakyResolveRepo) MarkSucceeded(ctx context.Context, id, txReference string, now time.Time) error {
	if r.resolveFailures > 0 {
		r.resolveFailures--
		return errors.New("connection reset by peer")
	}
	return r.GormPaymentRetryRepo.MarkSucceeded(ctx, id, txReference, now)
}

func TestPaymentBroadcastIsNotRepeatedAfterResolveFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		resolveFailures int
		wantFirst       BatchResult
		wantResolved    bool
		wantInDLQ       bool
	}{
		{
			name:            "transient resolve failure",
			resolveFailures: 1,
			wantFirst:       BatchResult{Processed: 1, Successful: 1},
			wantResolved:    true,
		},
		{
			name:            "resolve never persists",
			resolveFailures: 1000,
			wantFirst:       BatchResult{Processed: 1, GaveUp: 1},
			wantInDLQ:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			repo := &flakyResolveRepo{
				GormPaymentRetryRepo: repository.NewGormPaymentRetryRepo(newIntegrationDB(t)),
				resolveFailures:      tt.resolveFailures,
			}
			p := &domain.PaymentRetry{
				ID:          uuid.NewString(),
				RecipientID: 2002,
				Amount:      decimal.RequireFromString("40"),
				PaymentType: domain.PaymentTypeDepositReward,
				EarningIDs:  []int64{5},
				MaxRetries:  5,
			}
			if err := repo.Create(ctx, p); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			broadcasts := 0
			s := &fakePaymentSender{
				sendFn: func(ctx context.Context, recipientID int64, amount decimal.Decimal, reference string) (string, error) {
					broadcasts++
					return "0xbeef", nil
				},
			}
			engine, err := NewPaymentRetryEngine(repo, s, domain.DefaultPaymentBackoff(), BatchOptions{Concurrency: 1, Lease: time.Minute}, zap.NewNop())
			if err != nil {
				t.Fatalf("NewPaymentRetryEngine() error = %v", err)
			}
			engine.persistBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

			clock := time.Now().UTC()
			engine.now = func() time.Time { return clock }

			first, err := engine.RunBatch(ctx)
			if err != nil {
				t.Fatalf("first RunBatch() error = %v", err)
			}
			if first != tt.wantFirst {
				t.Fatalf("first result = %+v, want %+v", first, tt.wantFirst)
			}

			clock = clock.Add(time.Hour)
			second, err := engine.RunBatch(ctx)
			if err != nil {
				t.Fatalf("second RunBatch() error = %v", err)
			}
			if second != (BatchResult{}) {
				t.Fatalf("second result = %+v, want nothing claimed", second)
			}
			if broadcasts != 1 {
				t.Fatalf("broadcasts = %d, want 1", broadcasts)
			}

			stored, err := repo.GetByID(ctx, p.ID)
			if err != nil {
				t.Fatalf("GetByID() error = %v", err)
			}
			if stored.Resolved != tt.wantResolved || stored.InDLQ != tt.wantInDLQ {
				t.Fatalf("stored resolved=%v inDlq=%v, want %v/%v", stored.Resolved, stored.InDLQ, tt.wantResolved, tt.wantInDLQ)
			}
			if stored.TxReference == nil || *stored.TxReference != "0xbeef" {
				t.Fatalf("tx reference = %v, want 0xbeef", stored.TxReference)
			}
		})
	}
}

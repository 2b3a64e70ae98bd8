package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "fallback.db")), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	err = db.AutoMigrate(
		&FailedNotificationModel{},
		&PaymentRetryModel{},
		&FallbackNotificationModel{},
		&FsmStateModel{},
		&AdminSessionModel{},
		&UserModel{},
	)
	if err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	return db
}

func testNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func ptrTime(t time.Time) *time.Time { return &t }

func createNotification(t *testing.T, repo *GormFailedNotificationRepo, attempts int, lastAttempt *time.Time) *domain.FailedNotification {
	t.Helper()

	n := &domain.FailedNotification{
		ID:            uuid.NewString(),
		RecipientID:   1001,
		Category:      domain.CategoryDeposit,
		Message:       "deposit confirmed",
		Metadata:      map[string]any{"depositId": "d-1"},
		AttemptCount:  attempts,
		LastAttemptAt: lastAttempt,
	}
	if err := repo.Create(context.Background(), n); err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}
	return n
}

func TestFailedNotificationClaimDueHonorsBackoff(t *testing.T) {
	t.Parallel()

	repo := NewGormFailedNotificationRepo(newTestDB(t))
	ctx := context.Background()
	now := testNow()
	policy := domain.DefaultNotificationPolicy()

	recent := createNotification(t, repo, 4, ptrTime(now.Add(-10*time.Minute)))
	old := createNotification(t, repo, 4, ptrTime(now.Add(-121*time.Minute)))
	createNotification(t, repo, 5, ptrTime(now.Add(-24*time.Hour)))

	isDue := func(n *domain.FailedNotification) bool {
		return policy.IsDue(n.AttemptCount, n.LastAttempt(), now)
	}
	claimed, skipped, err := repo.ClaimDue(ctx, ClaimParams{MaxRetries: 5, Now: now, Lease: time.Minute, Limit: 100}, isDue)
	if err != nil {
		t.Fatalf("ClaimDue() unexpected error = %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != old.ID {
		t.Fatalf("ClaimDue() claimed = %+v, want only %s", claimed, old.ID)
	}
	if skipped != 1 {
		t.Fatalf("ClaimDue() skipped = %d, want 1", skipped)
	}
	if claimed[0].LockedUntil == nil || !claimed[0].LockedUntil.Equal(now.Add(time.Minute)) {
		t.Fatalf("ClaimDue() lease = %v, want %s", claimed[0].LockedUntil, now.Add(time.Minute))
	}

	// a leased row is invisible to an overlapping run
	again, _, err := repo.ClaimDue(ctx, ClaimParams{MaxRetries: 5, Now: now, Lease: time.Minute, Limit: 100}, isDue)
	if err != nil {
		t.Fatalf("ClaimDue() unexpected error = %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second ClaimDue() claimed %d rows, want 0", len(again))
	}

	stored, err := repo.GetByID(ctx, recent.ID)
	if err != nil {
		t.Fatalf("GetByID() unexpected error = %v", err)
	}
	if stored.LockedUntil != nil {
		t.Fatal("skipped row was leased")
	}
}

func TestFailedNotificationResolveAndFailure(t *testing.T) {
	t.Parallel()

	repo := NewGormFailedNotificationRepo(newTestDB(t))
	ctx := context.Background()
	now := testNow()

	n := createNotification(t, repo, 1, ptrTime(now.Add(-time.Hour)))
	if err := repo.RecordFailure(ctx, n.ID, FailureUpdate{Error: "timeout", Now: now}); err != nil {
		t.Fatalf("RecordFailure() unexpected error = %v", err)
	}

	stored, err := repo.GetByID(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetByID() unexpected error = %v", err)
	}
	if stored.AttemptCount != 2 {
		t.Fatalf("AttemptCount = %d, want 2", stored.AttemptCount)
	}
	if stored.LastError == nil || *stored.LastError != "timeout" {
		t.Fatalf("LastError = %v, want timeout", stored.LastError)
	}
	if stored.LastAttemptAt == nil || !stored.LastAttemptAt.Equal(now) {
		t.Fatalf("LastAttemptAt = %v, want %s", stored.LastAttemptAt, now)
	}

	if err := repo.MarkResolved(ctx, n.ID, now); err != nil {
		t.Fatalf("MarkResolved() unexpected error = %v", err)
	}
	stored, _ = repo.GetByID(ctx, n.ID)
	if !stored.Resolved || stored.ResolvedAt == nil {
		t.Fatalf("resolved = %v, resolvedAt = %v, want both set", stored.Resolved, stored.ResolvedAt)
	}

	if err := repo.MarkResolved(ctx, n.ID, now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second MarkResolved() error = %v, want ErrNotFound", err)
	}
	if err := repo.RecordFailure(ctx, n.ID, FailureUpdate{Error: "late", Now: now}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("RecordFailure() on resolved row error = %v, want ErrNotFound", err)
	}
}

func TestFailedNotificationDLQListing(t *testing.T) {
	t.Parallel()

	repo := NewGormFailedNotificationRepo(newTestDB(t))
	ctx := context.Background()
	now := testNow()

	exhausted := createNotification(t, repo, 4, ptrTime(now.Add(-3*time.Hour)))
	if err := repo.RecordFailure(ctx, exhausted.ID, FailureUpdate{Error: "blocked", Now: now, MoveToDLQ: true}); err != nil {
		t.Fatalf("RecordFailure() unexpected error = %v", err)
	}
	critical := &domain.FailedNotification{
		ID:           uuid.NewString(),
		RecipientID:  2002,
		Category:     domain.CategoryPayout,
		Message:      "payout sent",
		AttemptCount: 1,
		Critical:     true,
	}
	if err := repo.Create(ctx, critical); err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	dlq, err := repo.ListDLQ(ctx, 10)
	if err != nil {
		t.Fatalf("ListDLQ() unexpected error = %v", err)
	}
	if len(dlq) != 1 || dlq[0].ID != exhausted.ID {
		t.Fatalf("ListDLQ() = %+v, want %s", dlq, exhausted.ID)
	}

	unresolved, err := repo.ListUnresolved(ctx, false, 10)
	if err != nil {
		t.Fatalf("ListUnresolved() unexpected error = %v", err)
	}
	if len(unresolved) != 2 {
		t.Fatalf("ListUnresolved() returned %d rows, want 2", len(unresolved))
	}

	criticalOnly, err := repo.ListUnresolved(ctx, true, 10)
	if err != nil {
		t.Fatalf("ListUnresolved(critical) unexpected error = %v", err)
	}
	if len(criticalOnly) != 1 || criticalOnly[0].ID != critical.ID {
		t.Fatalf("ListUnresolved(critical) = %+v, want %s", criticalOnly, critical.ID)
	}

	pending, _ := repo.CountPending(ctx)
	dlqCount, _ := repo.CountDLQ(ctx)
	if pending != 1 || dlqCount != 1 {
		t.Fatalf("counts pending=%d dlq=%d, want 1/1", pending, dlqCount)
	}

	claimed, _, err := repo.ClaimDue(ctx, ClaimParams{MaxRetries: 10, Now: now, Lease: time.Minute, Limit: 10}, nil)
	if err != nil {
		t.Fatalf("ClaimDue() unexpected error = %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != critical.ID {
		t.Fatalf("ClaimDue() = %+v, want only the non-DLQ row", claimed)
	}
}

func createPayment(t *testing.T, repo *GormPaymentRetryRepo, attempts int, nextRetryAt *time.Time) *domain.PaymentRetry {
	t.Helper()

	p := &domain.PaymentRetry{
		ID:           uuid.NewString(),
		RecipientID:  3003,
		Amount:       decimal.RequireFromString("12.5"),
		PaymentType:  domain.PaymentTypeReferralEarning,
		EarningIDs:   []int64{11, 12, 13},
		AttemptCount: attempts,
		MaxRetries:   5,
		NextRetryAt:  nextRetryAt,
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}
	return p
}

func TestPaymentRetryRoundTrip(t *testing.T) {
	t.Parallel()

	repo := NewGormPaymentRetryRepo(newTestDB(t))
	p := createPayment(t, repo, 0, nil)

	stored, err := repo.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetByID() unexpected error = %v", err)
	}
	if !stored.Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("Amount = %s, want 12.5", stored.Amount)
	}
	if len(stored.EarningIDs) != 3 || stored.EarningIDs[0] != 11 || stored.EarningIDs[2] != 13 {
		t.Fatalf("EarningIDs = %v, want [11 12 13]", stored.EarningIDs)
	}

	if _, err := repo.GetByID(context.Background(), uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestPaymentRetryEligibility(t *testing.T) {
	t.Parallel()

	repo := NewGormPaymentRetryRepo(newTestDB(t))
	ctx := context.Background()
	now := testNow()

	fresh := createPayment(t, repo, 0, nil)
	due := createPayment(t, repo, 1, ptrTime(now.Add(-time.Minute)))
	createPayment(t, repo, 1, ptrTime(now.Add(time.Hour)))

	claimed, err := repo.ClaimDue(ctx, PaymentClaimParams{Now: now, Lease: time.Minute, Limit: 10})
	if err != nil {
		t.Fatalf("ClaimDue() unexpected error = %v", err)
	}
	ids := map[string]bool{}
	for _, p := range claimed {
		ids[p.ID] = true
	}
	if len(claimed) != 2 || !ids[fresh.ID] || !ids[due.ID] {
		t.Fatalf("ClaimDue() = %v, want %s and %s", ids, fresh.ID, due.ID)
	}

	again, err := repo.ClaimDue(ctx, PaymentClaimParams{Now: now, Lease: time.Minute, Limit: 10})
	if err != nil {
		t.Fatalf("ClaimDue() unexpected error = %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second ClaimDue() claimed %d rows, want 0", len(again))
	}
}

func TestPaymentRetryExhaustionMovesToDLQ(t *testing.T) {
	t.Parallel()

	repo := NewGormPaymentRetryRepo(newTestDB(t))
	ctx := context.Background()
	now := testNow()

	p := createPayment(t, repo, 4, nil)
	err := repo.RecordFailure(ctx, p.ID, PaymentFailure{
		LastError:   "insufficient gas",
		Now:         now,
		NextRetryAt: now.Add(time.Hour),
		MoveToDLQ:   true,
	})
	if err != nil {
		t.Fatalf("RecordFailure() unexpected error = %v", err)
	}

	stored, _ := repo.GetByID(ctx, p.ID)
	if stored.AttemptCount != 5 || !stored.InDLQ || stored.Resolved || stored.NextRetryAt != nil {
		t.Fatalf("stored = %+v, want attempt 5 in DLQ unresolved without next retry", stored)
	}

	claimed, err := repo.ClaimDue(ctx, PaymentClaimParams{Now: now.Add(48 * time.Hour), Lease: time.Minute, Limit: 10})
	if err != nil || len(claimed) != 0 {
		t.Fatalf("ClaimDue() = %v, %v, want no rows", claimed, err)
	}

	dlq, err := repo.ListDLQ(ctx, 10)
	if err != nil || len(dlq) != 1 {
		t.Fatalf("ListDLQ() = %v, %v, want one row", dlq, err)
	}
}

func TestPaymentRetryMarkSucceeded(t *testing.T) {
	t.Parallel()

	repo := NewGormPaymentRetryRepo(newTestDB(t))
	ctx := context.Background()
	now := testNow()

	p := createPayment(t, repo, 2, nil)
	if err := repo.MarkSucceeded(ctx, p.ID, "0xabc", now); err != nil {
		t.Fatalf("MarkSucceeded() unexpected error = %v", err)
	}

	stored, _ := repo.GetByID(ctx, p.ID)
	if !stored.Resolved || stored.TxReference == nil || *stored.TxReference != "0xabc" || stored.AttemptCount != 3 {
		t.Fatalf("stored = %+v, want resolved with tx 0xabc and 3 attempts", stored)
	}

	if err := repo.RecordFailure(ctx, p.ID, PaymentFailure{LastError: "late", Now: now}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("RecordFailure() on resolved row error = %v, want ErrNotFound", err)
	}
}

func TestPaymentRetryRequeue(t *testing.T) {
	t.Parallel()

	repo := NewGormPaymentRetryRepo(newTestDB(t))
	ctx := context.Background()
	now := testNow()

	p := createPayment(t, repo, 4, nil)
	if _, err := repo.Requeue(ctx, p.ID, 3, now); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Requeue() of live row error = %v, want ErrConflict", err)
	}

	_ = repo.RecordFailure(ctx, p.ID, PaymentFailure{LastError: "rejected", Now: now, MoveToDLQ: true})

	requeued, err := repo.Requeue(ctx, p.ID, 3, now)
	if err != nil {
		t.Fatalf("Requeue() unexpected error = %v", err)
	}
	if requeued.InDLQ || requeued.MaxRetries != 8 || requeued.AttemptCount != 5 {
		t.Fatalf("Requeue() = %+v, want live row with max 8 and attempts 5", requeued)
	}

	claimed, err := repo.ClaimDue(ctx, PaymentClaimParams{Now: now, Lease: time.Minute, Limit: 10})
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimDue() = %v, %v, want the requeued row", claimed, err)
	}

	if _, err := repo.Requeue(ctx, uuid.NewString(), 3, now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Requeue() of missing row error = %v, want ErrNotFound", err)
	}
}

func TestPaymentRetryParkedBroadcastKeepsReference(t *testing.T) {
	t.Parallel()

	repo := NewGormPaymentRetryRepo(newTestDB(t))
	ctx := context.Background()
	now := testNow()

	p := createPayment(t, repo, 1, nil)
	detail := "unpersisted_success"
	tx := "0xfeed"
	err := repo.RecordFailure(ctx, p.ID, PaymentFailure{
		LastError:   "broadcast as 0xfeed but resolve failed",
		ErrorDetail: &detail,
		TxReference: &tx,
		Now:         now,
		MoveToDLQ:   true,
	})
	if err != nil {
		t.Fatalf("RecordFailure() unexpected error = %v", err)
	}

	stored, _ := repo.GetByID(ctx, p.ID)
	if !stored.InDLQ || stored.Resolved || stored.TxReference == nil || *stored.TxReference != tx {
		t.Fatalf("stored = %+v, want unresolved DLQ row carrying tx %s", stored, tx)
	}

	if _, err := repo.Requeue(ctx, p.ID, 3, now); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Requeue() of broadcast row error = %v, want ErrConflict", err)
	}
}

func TestFallbackListPendingOrdering(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewGormFallbackRepo(db)
	ctx := context.Background()
	base := testNow().Add(-time.Hour)

	rows := []struct {
		id       string
		priority int
		created  time.Time
	}{
		{id: uuid.NewString(), priority: 0, created: base},
		{id: uuid.NewString(), priority: 100, created: base.Add(2 * time.Minute)},
		{id: uuid.NewString(), priority: 10, created: base.Add(time.Minute)},
		{id: uuid.NewString(), priority: 10, created: base.Add(30 * time.Second)},
	}
	for _, row := range rows {
		f := &domain.FallbackNotification{
			ID:          row.id,
			RecipientID: 42,
			Category:    "deposit",
			Payload:     map[string]any{"text": "hi"},
			Priority:    row.priority,
			CreatedAt:   row.created,
		}
		if err := repo.Enqueue(ctx, f); err != nil {
			t.Fatalf("Enqueue() unexpected error = %v", err)
		}
	}

	pending, err := repo.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending() unexpected error = %v", err)
	}
	want := []string{rows[1].id, rows[3].id, rows[2].id, rows[0].id}
	for i, id := range want {
		if pending[i].ID != id {
			t.Fatalf("ListPending()[%d] = %s (priority %d), want %s", i, pending[i].ID, pending[i].Priority, id)
		}
	}
}

func TestFallbackProcessingLifecycle(t *testing.T) {
	t.Parallel()

	repo := NewGormFallbackRepo(newTestDB(t))
	ctx := context.Background()
	now := testNow()

	f := &domain.FallbackNotification{ID: uuid.NewString(), RecipientID: 7, Category: "system", Payload: map[string]any{"k": "v"}}
	if err := repo.Enqueue(ctx, f); err != nil {
		t.Fatalf("Enqueue() unexpected error = %v", err)
	}

	if err := repo.RecordFailure(ctx, f.ID, "redis: connection refused"); err != nil {
		t.Fatalf("RecordFailure() unexpected error = %v", err)
	}
	ok, err := repo.MarkProcessed(ctx, f.ID, now.Add(-200*time.Hour))
	if err != nil || !ok {
		t.Fatalf("MarkProcessed() = %v, %v, want true", ok, err)
	}
	ok, err = repo.MarkProcessed(ctx, f.ID, now)
	if err != nil || ok {
		t.Fatalf("second MarkProcessed() = %v, %v, want false", ok, err)
	}

	count, _ := repo.CountPending(ctx)
	if count != 0 {
		t.Fatalf("CountPending() = %d, want 0", count)
	}

	purged, err := repo.PurgeProcessedBefore(ctx, now.Add(-168*time.Hour))
	if err != nil {
		t.Fatalf("PurgeProcessedBefore() unexpected error = %v", err)
	}
	if purged != 1 {
		t.Fatalf("PurgeProcessedBefore() = %d, want 1", purged)
	}
}

func TestFsmStateSaveAndFreshness(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewGormFsmStateRepo(db)
	ctx := context.Background()
	now := testNow()

	state := "awaiting_amount"
	stale := &domain.FsmState{ID: uuid.NewString(), UserID: 1, State: &state, Data: map[string]any{"step": 1}}
	fresh := &domain.FsmState{ID: uuid.NewString(), UserID: 2, State: &state, Data: map[string]any{"step": 2}}
	empty := &domain.FsmState{ID: uuid.NewString(), UserID: 3}
	for _, s := range []*domain.FsmState{stale, fresh, empty} {
		if err := repo.Save(ctx, s); err != nil {
			t.Fatalf("Save() unexpected error = %v", err)
		}
	}

	db.Model(&FsmStateModel{}).Where("user_id = ?", 1).UpdateColumn("updated_at", now.Add(-30*time.Hour))
	db.Model(&FsmStateModel{}).Where("user_id = ?", 2).UpdateColumn("updated_at", now.Add(-time.Hour))

	rows, err := repo.ListFresh(ctx, now.Add(-24*time.Hour), 100)
	if err != nil {
		t.Fatalf("ListFresh() unexpected error = %v", err)
	}
	if len(rows) != 1 || rows[0].UserID != 2 {
		t.Fatalf("ListFresh() = %+v, want only user 2", rows)
	}

	if err := repo.MarkMigrated(ctx, rows[0].ID, now); err != nil {
		t.Fatalf("MarkMigrated() unexpected error = %v", err)
	}
	rows, _ = repo.ListFresh(ctx, now.Add(-24*time.Hour), 100)
	if len(rows) != 0 {
		t.Fatalf("ListFresh() after migration returned %d rows, want 0", len(rows))
	}
}

func TestFsmStateSaveUpserts(t *testing.T) {
	t.Parallel()

	repo := NewGormFsmStateRepo(newTestDB(t))
	ctx := context.Background()

	first, second := "menu", "withdraw"
	s := &domain.FsmState{ID: uuid.NewString(), UserID: 9, State: &first}
	if err := repo.Save(ctx, s); err != nil {
		t.Fatalf("Save() unexpected error = %v", err)
	}
	originalID := s.ID

	next := &domain.FsmState{ID: uuid.NewString(), UserID: 9, State: &second, Data: map[string]any{"amount": "5"}}
	if err := repo.Save(ctx, next); err != nil {
		t.Fatalf("Save() unexpected error = %v", err)
	}
	if next.ID != originalID {
		t.Fatalf("Save() ID = %s, want existing row %s", next.ID, originalID)
	}
	if next.State == nil || *next.State != second || next.Data["amount"] != "5" {
		t.Fatalf("Save() = %+v, want updated state", next)
	}
}

func TestSessionDeactivateExpired(t *testing.T) {
	t.Parallel()

	repo := NewGormSessionRepo(newTestDB(t))
	ctx := context.Background()
	now := testNow()

	for i, expires := range []time.Time{now.Add(-time.Minute), now.Add(time.Hour)} {
		s := &domain.AdminSession{ID: uuid.NewString(), AdminID: int64(i + 1), Token: uuid.NewString(), IsActive: true, ExpiresAt: expires}
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create() unexpected error = %v", err)
		}
	}

	n, err := repo.DeactivateExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeactivateExpired() unexpected error = %v", err)
	}
	if n != 1 {
		t.Fatalf("DeactivateExpired() = %d, want 1", n)
	}
	n, _ = repo.DeactivateExpired(ctx, now)
	if n != 0 {
		t.Fatalf("second DeactivateExpired() = %d, want 0", n)
	}
}

func TestUserResolver(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	if err := db.Create(&UserModel{ID: 5, TelegramID: 555000}).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	resolver := NewGormUserResolver(db)

	ref, err := resolver.Resolve(context.Background(), 5)
	if err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}
	if ref.ChatID != 555000 || ref.UserID != 555000 {
		t.Fatalf("Resolve() = %+v, want chat/user 555000", ref)
	}

	if _, err := resolver.Resolve(context.Background(), 6); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
	}
}

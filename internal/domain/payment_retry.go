package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentType identifies what a batched payout pays for.
type PaymentType string

const (
	PaymentTypeReferralEarning PaymentType = "referral_earning"
	PaymentTypeDepositReward   PaymentType = "deposit_reward"
)

func (t PaymentType) String() string { return string(t) }

func (t PaymentType) IsValid() bool {
	switch t {
	case PaymentTypeReferralEarning, PaymentTypeDepositReward:
		return true
	}
	return false
}

func ParsePaymentTypeFromString(s string) (PaymentType, error) {
	pt := PaymentType(strings.ToLower(strings.TrimSpace(s)))
	if !pt.IsValid() {
		return "", fmt.Errorf("%w: invalid payment type %q", ErrValidation, s)
	}
	return pt, nil
}

// DefaultPaymentMaxRetries is applied when a payment row carries no retry ceiling.
const DefaultPaymentMaxRetries = 5

// PaymentRetry is one batched payout whose broadcast failed.
type PaymentRetry struct {
	ID            string
	RecipientID   int64
	Amount        decimal.Decimal
	PaymentType   PaymentType
	EarningIDs    []int64
	AttemptCount  int
	MaxRetries    int
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	LastError     *string
	ErrorDetail   *string
	InDLQ         bool
	Resolved      bool
	TxReference   *string
	LockedUntil   *time.Time
	ResolvedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p *PaymentRetry) Validate() error {
	if p.RecipientID == 0 {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive (got %s)", ErrValidation, p.Amount.String())
	}
	if !p.PaymentType.IsValid() {
		return fmt.Errorf("%w: invalid payment type %q", ErrValidation, p.PaymentType)
	}
	if len(p.EarningIDs) == 0 {
		return fmt.Errorf("%w: at least one earning record is required", ErrValidation)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrValidation)
	}
	return nil
}

// RetryCeiling returns the effective max retries for the row.
func (p *PaymentRetry) RetryCeiling() int {
	if p.MaxRetries <= 0 {
		return DefaultPaymentMaxRetries
	}
	return p.MaxRetries
}

// Reference is the stable idempotency reference handed to the payment broadcaster,
// so a payout retried after an ambiguous timeout can be deduplicated downstream.
func (p *PaymentRetry) Reference() string {
	return "payout-" + p.ID
}

// IsEligible mirrors the retry query predicate for a single row.
func (p *PaymentRetry) IsEligible(now time.Time) bool {
	if p.Resolved || p.InDLQ {
		return false
	}
	return p.NextRetryAt == nil || !p.NextRetryAt.After(now)
}

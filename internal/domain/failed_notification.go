package domain

import (
	"fmt"
	"strings"
	"time"
)

// Notification categories emitted by the bot. The set is open; these are the ones
// other services reference directly.
const (
	CategoryDeposit  = "deposit"
	CategoryReferral = "referral"
	CategoryPayout   = "payout"
	CategorySystem   = "system"
)

// MaxMessageLength mirrors the chat API limit for a single text message (in characters).
const MaxMessageLength = 4096

// FailedNotification is one notification whose direct delivery attempt failed.
type FailedNotification struct {
	ID            string
	RecipientID   int64
	Category      string
	Message       string
	Metadata      map[string]any
	AttemptCount  int
	LastError     *string
	Resolved      bool
	Critical      bool
	InDLQ         bool
	LockedUntil   *time.Time
	LastAttemptAt *time.Time
	ResolvedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (n *FailedNotification) Validate() error {
	if n.RecipientID == 0 {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if strings.TrimSpace(n.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if l := len([]rune(n.Message)); l > MaxMessageLength {
		return fmt.Errorf("%w: message exceeds %d characters (got %d)", ErrValidation, MaxMessageLength, l)
	}
	if n.AttemptCount < 0 {
		return fmt.Errorf("%w: attempt count must not be negative", ErrValidation)
	}
	return nil
}

// LastAttempt returns the time the backoff window is measured from. Rows that were
// never attempted by the retry engine count from their creation.
func (n *FailedNotification) LastAttempt() time.Time {
	if n.LastAttemptAt != nil {
		return *n.LastAttemptAt
	}
	return n.CreatedAt
}

// NormalizeCategory lowercases and trims a category label.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

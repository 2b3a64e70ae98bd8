package domain

import (
	"fmt"
	"strings"
	"time"
)

// FallbackNotification is a queued notification persisted while the primary queue is down.
type FallbackNotification struct {
	ID          string
	RecipientID int64
	Category    string
	Payload     map[string]any
	Priority    int
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

func (f *FallbackNotification) Validate() error {
	if f.RecipientID == 0 {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if strings.TrimSpace(f.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	return nil
}

// FsmState is the durable copy of a user's conversational state.
type FsmState struct {
	ID         string
	UserID     int64
	State      *string
	Data       map[string]any
	MigratedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NeedsMigration reports whether the row carries state written after its last migration.
func (s *FsmState) NeedsMigration() bool {
	if s.State == nil {
		return false
	}
	return s.MigratedAt == nil || s.MigratedAt.Before(s.UpdatedAt)
}

// ConversationRef addresses a user's conversation in the primary cache.
type ConversationRef struct {
	ChatID int64
	UserID int64
}

package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// FailedNotificationModel is the persistence model for the failed_notifications table.
type FailedNotificationModel struct {
	ID            string            `gorm:"type:uuid;primaryKey"`
	RecipientID   int64             `gorm:"not null;index"`
	Category      string            `gorm:"type:varchar(50);not null"`
	Message       string            `gorm:"type:text;not null"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb"`
	AttemptCount  int               `gorm:"not null;default:1"`
	LastError     *string           `gorm:"type:text"`
	Resolved      bool              `gorm:"not null;default:false"`
	Critical      bool              `gorm:"not null;default:false"`
	InDLQ         bool              `gorm:"column:in_dlq;not null;default:false"`
	LockedUntil   *time.Time
	LastAttemptAt *time.Time
	ResolvedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (FailedNotificationModel) TableName() string {
	return "failed_notifications"
}

// PaymentRetryModel is the persistence model for the payment_retries table.
type PaymentRetryModel struct {
	ID            string             `gorm:"type:uuid;primaryKey"`
	RecipientID   int64              `gorm:"not null;index"`
	Amount        decimal.Decimal    `gorm:"type:numeric(20,8);not null"`
	PaymentType   domain.PaymentType `gorm:"type:varchar(30);not null"`
	EarningIDs    datatypes.JSON     `gorm:"column:earning_ids;type:jsonb;not null"`
	AttemptCount  int                `gorm:"not null;default:0"`
	MaxRetries    int                `gorm:"not null;default:5"`
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	LastError     *string `gorm:"type:text"`
	ErrorDetail   *string `gorm:"type:text"`
	InDLQ         bool    `gorm:"column:in_dlq;not null;default:false"`
	Resolved      bool    `gorm:"not null;default:false"`
	TxReference   *string `gorm:"type:varchar(255)"`
	LockedUntil   *time.Time
	ResolvedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (PaymentRetryModel) TableName() string {
	return "payment_retries"
}

// FallbackNotificationModel is the persistence model for notification_queue_fallback.
type FallbackNotificationModel struct {
	ID          string            `gorm:"type:uuid;primaryKey"`
	RecipientID int64             `gorm:"not null"`
	Category    string            `gorm:"type:varchar(50);not null"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb"`
	Priority    int               `gorm:"not null;default:0"`
	Attempts    int               `gorm:"not null;default:0"`
	LastError   *string           `gorm:"type:text"`
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

func (FallbackNotificationModel) TableName() string {
	return "notification_queue_fallback"
}

// FsmStateModel is the persistence model for user_fsm_states.
type FsmStateModel struct {
	ID         string            `gorm:"type:uuid;primaryKey"`
	UserID     int64             `gorm:"not null;uniqueIndex"`
	State      *string           `gorm:"type:varchar(255)"`
	Data       datatypes.JSONMap `gorm:"type:jsonb"`
	MigratedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (FsmStateModel) TableName() string {
	return "user_fsm_states"
}

// AdminSessionModel is the persistence model for admin_sessions.
type AdminSessionModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	AdminID   int64     `gorm:"not null;index"`
	Token     string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	IsActive  bool      `gorm:"not null;default:true"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AdminSessionModel) TableName() string {
	return "admin_sessions"
}

// UserModel is the read-only view of the bot's users table.
type UserModel struct {
	ID         int64 `gorm:"primaryKey"`
	TelegramID int64 `gorm:"not null;uniqueIndex"`
}

func (UserModel) TableName() string {
	return "users"
}

func failedNotificationModelFromDomain(n *domain.FailedNotification) *FailedNotificationModel {
	if n == nil {
		return nil
	}

	return &FailedNotificationModel{
		ID:            n.ID,
		RecipientID:   n.RecipientID,
		Category:      n.Category,
		Message:       n.Message,
		Metadata:      datatypes.JSONMap(n.Metadata),
		AttemptCount:  n.AttemptCount,
		LastError:     n.LastError,
		Resolved:      n.Resolved,
		Critical:      n.Critical,
		InDLQ:         n.InDLQ,
		LockedUntil:   n.LockedUntil,
		LastAttemptAt: n.LastAttemptAt,
		ResolvedAt:    n.ResolvedAt,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}

func failedNotificationModelToDomain(m *FailedNotificationModel) *domain.FailedNotification {
	if m == nil {
		return nil
	}

	return &domain.FailedNotification{
		ID:            m.ID,
		RecipientID:   m.RecipientID,
		Category:      m.Category,
		Message:       m.Message,
		Metadata:      map[string]any(m.Metadata),
		AttemptCount:  m.AttemptCount,
		LastError:     m.LastError,
		Resolved:      m.Resolved,
		Critical:      m.Critical,
		InDLQ:         m.InDLQ,
		LockedUntil:   m.LockedUntil,
		LastAttemptAt: m.LastAttemptAt,
		ResolvedAt:    m.ResolvedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func paymentRetryModelFromDomain(p *domain.PaymentRetry) (*PaymentRetryModel, error) {
	if p == nil {
		return nil, nil
	}

	earningIDs, err := json.Marshal(p.EarningIDs)
	if err != nil {
		return nil, err
	}

	return &PaymentRetryModel{
		ID:            p.ID,
		RecipientID:   p.RecipientID,
		Amount:        p.Amount,
		PaymentType:   p.PaymentType,
		EarningIDs:    datatypes.JSON(earningIDs),
		AttemptCount:  p.AttemptCount,
		MaxRetries:    p.MaxRetries,
		LastAttemptAt: p.LastAttemptAt,
		NextRetryAt:   p.NextRetryAt,
		LastError:     p.LastError,
		ErrorDetail:   p.ErrorDetail,
		InDLQ:         p.InDLQ,
		Resolved:      p.Resolved,
		TxReference:   p.TxReference,
		LockedUntil:   p.LockedUntil,
		ResolvedAt:    p.ResolvedAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}, nil
}

func paymentRetryModelToDomain(m *PaymentRetryModel) (*domain.PaymentRetry, error) {
	if m == nil {
		return nil, nil
	}

	var earningIDs []int64
	if len(m.EarningIDs) > 0 {
		if err := json.Unmarshal(m.EarningIDs, &earningIDs); err != nil {
			return nil, err
		}
	}

	return &domain.PaymentRetry{
		ID:            m.ID,
		RecipientID:   m.RecipientID,
		Amount:        m.Amount,
		PaymentType:   m.PaymentType,
		EarningIDs:    earningIDs,
		AttemptCount:  m.AttemptCount,
		MaxRetries:    m.MaxRetries,
		LastAttemptAt: m.LastAttemptAt,
		NextRetryAt:   m.NextRetryAt,
		LastError:     m.LastError,
		ErrorDetail:   m.ErrorDetail,
		InDLQ:         m.InDLQ,
		Resolved:      m.Resolved,
		TxReference:   m.TxReference,
		LockedUntil:   m.LockedUntil,
		ResolvedAt:    m.ResolvedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

func fallbackModelFromDomain(f *domain.FallbackNotification) *FallbackNotificationModel {
	if f == nil {
		return nil
	}

	return &FallbackNotificationModel{
		ID:          f.ID,
		RecipientID: f.RecipientID,
		Category:    f.Category,
		Payload:     datatypes.JSONMap(f.Payload),
		Priority:    f.Priority,
		Attempts:    f.Attempts,
		LastError:   f.LastError,
		CreatedAt:   f.CreatedAt,
		ProcessedAt: f.ProcessedAt,
	}
}

func fallbackModelToDomain(m *FallbackNotificationModel) *domain.FallbackNotification {
	if m == nil {
		return nil
	}

	return &domain.FallbackNotification{
		ID:          m.ID,
		RecipientID: m.RecipientID,
		Category:    m.Category,
		Payload:     map[string]any(m.Payload),
		Priority:    m.Priority,
		Attempts:    m.Attempts,
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt,
		ProcessedAt: m.ProcessedAt,
	}
}

func fsmStateModelToDomain(m *FsmStateModel) *domain.FsmState {
	if m == nil {
		return nil
	}

	return &domain.FsmState{
		ID:         m.ID,
		UserID:     m.UserID,
		State:      m.State,
		Data:       map[string]any(m.Data),
		MigratedAt: m.MigratedAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func sessionModelFromDomain(s *domain.AdminSession) *AdminSessionModel {
	if s == nil {
		return nil
	}

	return &AdminSessionModel{
		ID:        s.ID,
		AdminID:   s.AdminID,
		Token:     s.Token,
		IsActive:  s.IsActive,
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func sessionModelToDomain(m *AdminSessionModel) *domain.AdminSession {
	if m == nil {
		return nil
	}

	return &domain.AdminSession{
		ID:        m.ID,
		AdminID:   m.AdminID,
		Token:     m.Token,
		IsActive:  m.IsActive,
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NotificationEnvelope is the queue payload pushed for a notification.
type NotificationEnvelope struct {
	ID          string         `json:"id"`
	RecipientID int64          `json:"recipientId"`
	Category    string         `json:"category"`
	Priority    int            `json:"priority"`
	Payload     map[string]any `json:"payload,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueuedAt"`
}

func (e NotificationEnvelope) Validate() error {
	if e.RecipientID == 0 {
		return fmt.Errorf("recipientId is required")
	}
	if strings.TrimSpace(e.Category) == "" {
		return fmt.Errorf("category is required")
	}
	return nil
}

func (e NotificationEnvelope) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

func UnmarshalEnvelope(data []byte) (NotificationEnvelope, error) {
	var e NotificationEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return NotificationEnvelope{}, fmt.Errorf("decode notification envelope: %w", err)
	}
	return e, e.Validate()
}

package sender

import (
	"context"

	"github.com/shopspring/decimal"
)

// NotificationSender delivers a chat message to a recipient.
type NotificationSender interface {
	SendNotification(ctx context.Context, recipientID int64, message string) error
}

// PaymentSender broadcasts a payout and returns its transaction reference. The
// reference argument is stable across retries of the same payout.
type PaymentSender interface {
	SendPayment(ctx context.Context, recipientID int64, amount decimal.Decimal, reference string) (string, error)
}

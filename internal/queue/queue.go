package queue

import (
	"context"
	"fmt"
)

// PrimaryCache is the fast queue/cache that fallback rows are reconciled back into.
type PrimaryCache interface {
	Push(ctx context.Context, queueKey string, payload []byte) error
	IsReachable(ctx context.Context) bool
	SetConversationState(ctx context.Context, key string, state *string, data map[string]any) error
}

// Bucket is a notification queue partition in the primary cache.
type Bucket string

const (
	BucketCritical Bucket = "critical"
	BucketNormal   Bucket = "normal"

	// DefaultCriticalPriority is the lowest priority routed to the critical bucket.
	DefaultCriticalPriority = 10
)

// BucketFor maps a priority to its bucket. A non-positive threshold is treated as unset
// and uses DefaultCriticalPriority.
func BucketFor(priority, criticalThreshold int) Bucket {
	if criticalThreshold <= 0 {
		criticalThreshold = DefaultCriticalPriority
	}
	if priority >= criticalThreshold {
		return BucketCritical
	}
	return BucketNormal
}

// BucketKey returns the list key for a bucket, e.g. notifications:queue:critical.
func BucketKey(bucket Bucket) string {
	return fmt.Sprintf("notifications:queue:%s", bucket)
}

// ConversationKey is the FSM storage key prefix the bot uses for one conversation,
// e.g. fsm:0:123:123. State and data live under the ":state" and ":data" suffixes.
func ConversationKey(botID, chatID, userID int64) string {
	return fmt.Sprintf("fsm:%d:%d:%d", botID, chatID, userID)
}

func StateKey(conversationKey string) string {
	return conversationKey + ":state"
}

func DataKey(conversationKey string) string {
	return conversationKey + ":data"
}

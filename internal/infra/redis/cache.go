package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/fallback-engine/internal/queue"
	goredis "github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 2 * time.Second

var _ queue.PrimaryCache = (*Cache)(nil)

// Cache is the Redis-backed primary queue and conversation store.
type Cache struct {
	client       *goredis.Client
	pingTimeout time.Duration
}

func NewCache(client *goredis.Client, pingTimeout time.Duration) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}

	return &Cache{
		client:       client,
		pingTimeout: pingTimeout,
	}, nil
}

func (c *Cache) Push(ctx context.Context, queueKey string, payload []byte) error {
	if strings.TrimSpace(queueKey) == "" {
		return fmt.Errorf("queue key is required")
	}
	if err := c.client.RPush(ctx, queueKey, payload).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", queueKey, err)
	}
	return nil
}

func (c *Cache) IsReachable(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	return c.client.Ping(pingCtx).Err() == nil
}

// SetConversationState writes the state and data keys of a conversation in one
// MULTI block. A nil or empty state and empty data delete their keys.
func (c *Cache) SetConversationState(ctx context.Context, key string, state *string, data map[string]any) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("conversation key is required")
	}

	var encoded []byte
	if len(data) > 0 {
		var err error
		encoded, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode conversation data: %w", err)
		}
	}

	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if state == nil || *state == "" {
			pipe.Del(ctx, queue.StateKey(key))
		} else {
			pipe.Set(ctx, queue.StateKey(key), *state, 0)
		}
		if encoded == nil {
			pipe.Del(ctx, queue.DataKey(key))
		} else {
			pipe.Set(ctx, queue.DataKey(key), encoded, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set conversation state %s: %w", key, err)
	}
	return nil
}

// DrainLength reports the number of queued payloads in a bucket.
func (c *Cache) DrainLength(ctx context.Context, bucket queue.Bucket) (int64, error) {
	return c.client.LLen(ctx, queue.BucketKey(bucket)).Result()
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	inboxPrefix   = "notify:inbox:"
	eventsChannel = "notify:events"
)

// RedisInbox keeps a capped list per recipient and publishes every event on
// a pub/sub channel for live consumers.
type RedisInbox struct {
	client *redis.Client
	size   int
}

func NewRedisInbox(redisURL string, size int) (*RedisInbox, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisInboxWithClient(client, size), nil
}

func NewRedisInboxWithClient(client *redis.Client, size int) *RedisInbox {
	if size <= 0 {
		size = 200
	}
	return &RedisInbox{client: client, size: size}
}

func (r *RedisInbox) key(userID string) string {
	return inboxPrefix + userID
}

func (r *RedisInbox) Deliver(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, userID := range event.Recipients {
			key := r.key(userID)
			pipe.LPush(ctx, key, data)
			pipe.LTrim(ctx, key, 0, int64(r.size-1))
		}
		pipe.Publish(ctx, eventsChannel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deliver event: %w", err)
	}
	return nil
}

func (r *RedisInbox) List(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	raw, err := r.client.LRange(ctx, r.key(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var event Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *RedisInbox) Close() error {
	return r.client.Close()
}

func (r *RedisInbox) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
)

// Repository stores the chat history of each session.
type Repository interface {
	Load(ctx context.Context, sessionID string) ([]*schema.Message, error)
	AddMessages(ctx context.Context, sessionID string, messages ...*schema.Message) error
	Clear(ctx context.Context, sessionID string) error
}

// RedisRepository keeps one list per session, trimmed to the newest
// maxMessages entries. Every write refreshes the TTL.
type RedisRepository struct {
	client      *redis.Client
	ttl         time.Duration
	maxMessages int
}

func NewRedisRepository(client *redis.Client, ttl time.Duration, maxMessages int) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl, maxMessages: maxMessages}
}

func key(sessionID string) string {
	return "conversation:" + sessionID
}

func (r *RedisRepository) Load(ctx context.Context, sessionID string) ([]*schema.Message, error) {
	items, err := r.client.LRange(ctx, key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	messages := make([]*schema.Message, 0, len(items))
	for _, item := range items {
		var msg schema.Message
		if err := sonic.UnmarshalString(item, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

func (r *RedisRepository) AddMessages(ctx context.Context, sessionID string, messages ...*schema.Message) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]any, 0, len(messages))
	for _, msg := range messages {
		data, err := sonic.MarshalString(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, data)
	}

	k := key(sessionID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, values...)
		if r.maxMessages > 0 {
			pipe.LTrim(ctx, k, int64(-r.maxMessages), -1)
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

func (r *RedisRepository) Clear(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, key(sessionID)).Err()
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"learnassist/src/model"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	fieldPayload   = "payload"
	fieldHitCount  = "hit_count"
	fieldCreatedAt = "created_at"

	scanBatch = 200
)

// RedisCache keeps each entry as a hash of payload, hit_count and created_at.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// getScript reads an entry and counts the hit in one step. A key that has
// expired or never existed yields nil and is left absent.
var getScript = redis.NewScript(`
local payload = redis.call("HGET", KEYS[1], "payload")
if not payload then
	return false
end
local hits = redis.call("HINCRBY", KEYS[1], "hit_count", 1)
local created = redis.call("HGET", KEYS[1], "created_at") or ""
return {payload, hits, created, redis.call("PTTL", KEYS[1])}
`)

func (c *RedisCache) Get(ctx context.Context, key string) (*model.CacheEntry, bool, error) {
	res, err := getScript.Run(ctx, c.client, []string{key}).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if len(res) != 4 {
		return nil, false, fmt.Errorf("unexpected cache entry reply of length %d", len(res))
	}

	raw, _ := res[0].(string)
	var payload map[string]any
	if err := sonic.UnmarshalString(raw, &payload); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache payload: %w", err)
	}

	hits, _ := res[1].(int64)
	entry := &model.CacheEntry{
		Key:      key,
		Payload:  payload,
		HitCount: hits,
	}
	if created, _ := res[2].(string); created != "" {
		if ms, err := strconv.ParseInt(created, 10, 64); err == nil {
			entry.CreatedAt = time.UnixMilli(ms).UTC()
		}
	}
	if ttl, _ := res[3].(int64); ttl > 0 {
		entry.ExpiresAt = time.Now().Add(time.Duration(ttl) * time.Millisecond).UTC()
	}
	return entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, payload map[string]any, ttl time.Duration) error {
	data, err := sonic.MarshalString(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal cache payload: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldPayload, data,
			fieldHitCount, 0,
			fieldCreatedAt, time.Now().UnixMilli(),
		)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache entry: %w", err)
	}
	return nil
}

// InvalidateKind drops every entry of kind and returns how many were removed.
func (c *RedisCache) InvalidateKind(ctx context.Context, kind model.Kind) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, kindPrefix(kind)+"*", scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to invalidate cache entries: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

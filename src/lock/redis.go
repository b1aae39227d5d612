package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"learnassist/src/model"

	"github.com/redis/go-redis/v9"
)

// acquireScript sets the key if it is absent. A holder re-acquiring its own
// lock refreshes the TTL.
var acquireScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
if current == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// releaseScript deletes the key only when it is held by ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker on a shared Redis.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, sessionID string, kind model.Kind, requestID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}

	n, err := acquireScript.Run(ctx, l.client, []string{Key(sessionID, kind)}, requestID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return n == 1, nil
}

func (l *RedisLocker) Release(ctx context.Context, sessionID string, kind model.Kind, requestID string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{Key(sessionID, kind)}, requestID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	return n == 1, nil
}

func (l *RedisLocker) Holder(ctx context.Context, sessionID string, kind model.Kind) (string, bool, error) {
	holder, err := l.client.Get(ctx, Key(sessionID, kind)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read lock holder: %w", err)
	}
	return holder, true, nil
}

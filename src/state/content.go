package state

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedContent is the fast-path copy of a session's latest document.
type CachedContent struct {
	Version   int
	Content   string
	WordCount int
}

// ContentCache holds the latest content of each session. Writes carrying a
// version lower than or equal to the cached one are ignored, so a slow
// writer cannot overwrite a newer snapshot.
type ContentCache interface {
	Set(ctx context.Context, sessionID string, c CachedContent, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*CachedContent, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

func contentKey(sessionID string) string {
	return "session:" + sessionID + ":content"
}

var setContentScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "version")
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[1], "content", ARGV[2], "word_count", ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[4])
end
return 1
`)

type RedisContentCache struct {
	client *redis.Client
}

func NewRedisContentCache(client *redis.Client) *RedisContentCache {
	return &RedisContentCache{client: client}
}

func (r *RedisContentCache) Set(ctx context.Context, sessionID string, c CachedContent, ttl time.Duration) error {
	err := setContentScript.Run(ctx, r.client, []string{contentKey(sessionID)},
		c.Version, c.Content, c.WordCount, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("failed to cache session content: %w", err)
	}
	return nil
}

func (r *RedisContentCache) Get(ctx context.Context, sessionID string) (*CachedContent, bool, error) {
	fields, err := r.client.HGetAll(ctx, contentKey(sessionID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached session content: %w", err)
	}
	raw, ok := fields["version"]
	if !ok {
		return nil, false, nil
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return nil, false, fmt.Errorf("invalid cached version %q: %w", raw, err)
	}
	words, _ := strconv.Atoi(fields["word_count"])
	return &CachedContent{Version: version, Content: fields["content"], WordCount: words}, true, nil
}

func (r *RedisContentCache) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, contentKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached session content: %w", err)
	}
	return nil
}

// MemoryContentCache is a process-local ContentCache. TTLs are ignored.
type MemoryContentCache struct {
	mu      sync.Mutex
	entries map[string]CachedContent
}

func NewMemoryContentCache() *MemoryContentCache {
	return &MemoryContentCache{entries: make(map[string]CachedContent)}
}

func (m *MemoryContentCache) Set(_ context.Context, sessionID string, c CachedContent, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.entries[sessionID]; ok && current.Version >= c.Version {
		return nil
	}
	m.entries[sessionID] = c
	return nil
}

func (m *MemoryContentCache) Get(_ context.Context, sessionID string) (*CachedContent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.entries[sessionID]
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

func (m *MemoryContentCache) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"learnassist/src/model"

	"github.com/bytedance/sonic"
)

// memoryEntry keeps the payload encoded, so neither the writer nor any
// reader shares maps with the cache.
type memoryEntry struct {
	payload   string
	hits      int64
	createdAt time.Time
	expiresAt time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*model.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	var payload map[string]any
	if err := sonic.UnmarshalString(entry.payload, &payload); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache payload: %w", err)
	}
	entry.hits++
	return &model.CacheEntry{
		Key:       key,
		Payload:   payload,
		HitCount:  entry.hits,
		CreatedAt: entry.createdAt,
		ExpiresAt: entry.expiresAt,
	}, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, payload map[string]any, ttl time.Duration) error {
	data, err := sonic.MarshalString(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal cache payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := &memoryEntry{payload: data, createdAt: now}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) InvalidateKind(_ context.Context, kind model.Kind) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := kindPrefix(kind)
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

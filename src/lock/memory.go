package lock

import (
	"context"
	"sync"
	"time"

	"learnassist/src/model"
)

type memoryEntry struct {
	holder    string
	expiresAt time.Time
}

// MemoryLocker is a process-local Locker for single-instance runs and tests.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// live returns the unexpired entry for key, dropping it if it has expired.
func (l *MemoryLocker) live(key string) (memoryEntry, bool) {
	entry, ok := l.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !l.now().Before(entry.expiresAt) {
		delete(l.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (l *MemoryLocker) Acquire(_ context.Context, sessionID string, kind model.Kind, requestID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := Key(sessionID, kind)
	if entry, ok := l.live(key); ok && entry.holder != requestID {
		return false, nil
	}
	l.entries[key] = memoryEntry{holder: requestID, expiresAt: l.now().Add(ttl)}
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, sessionID string, kind model.Kind, requestID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := Key(sessionID, kind)
	entry, ok := l.live(key)
	if !ok || entry.holder != requestID {
		return false, nil
	}
	delete(l.entries, key)
	return true, nil
}

func (l *MemoryLocker) Holder(_ context.Context, sessionID string, kind model.Kind) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.live(Key(sessionID, kind))
	return entry.holder, ok, nil
}

// Package lock provides the non-blocking execution lock that keeps a single
// analysis of a given kind in flight per session.
package lock

import (
	"context"
	"time"

	"learnassist/src/model"
)

// Locker is a non-blocking mutual exclusion keyed by (session, kind). Acquire
// never waits: it reports false when another request holds the key.
type Locker interface {
	Acquire(ctx context.Context, sessionID string, kind model.Kind, requestID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, sessionID string, kind model.Kind, requestID string) (bool, error)
	Holder(ctx context.Context, sessionID string, kind model.Kind) (string, bool, error)
}

// Key returns the storage key of the lock for (sessionID, kind).
func Key(sessionID string, kind model.Kind) string {
	return "lock:agent:" + sessionID + ":" + string(kind)
}

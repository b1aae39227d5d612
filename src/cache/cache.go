// Package cache stores completed analysis payloads under a key derived from
// the analysis kind and its canonicalized inputs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"learnassist/src/model"

	"github.com/bytedance/sonic"
)

const keyPrefix = "analysis:"

// Cache is advisory: callers treat any error as a miss.
type Cache interface {
	Get(ctx context.Context, key string) (*model.CacheEntry, bool, error)
	Set(ctx context.Context, key string, payload map[string]any, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidateKind(ctx context.Context, kind model.Kind) (int, error)
}

// canonicalAPI orders object keys so logically equal inputs encode to the
// same bytes.
var canonicalAPI = sonic.Config{
	SortMapKeys:      true,
	EscapeHTML:       false,
	CompactMarshaler: true,
}.Froze()

// Key returns analysis:{kind}:{sha256 of the canonical inputs}.
func Key(kind model.Kind, inputs map[string]any) (string, error) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	data, err := Canonical(map[string]any{
		"agent":  string(kind),
		"inputs": inputs,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return kindPrefix(kind) + hex.EncodeToString(sum[:]), nil
}

// Canonical encodes v with sorted object keys.
func Canonical(v any) ([]byte, error) {
	data, err := canonicalAPI.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize inputs: %w", err)
	}
	return data, nil
}

func kindPrefix(kind model.Kind) string {
	return keyPrefix + string(kind) + ":"
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"learnassist/src/model"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	RuntimeTTL    = 60 * time.Minute
	runtimePrefix = "session:"
	runtimeSuffix = ":runtime"
)

// NewRedisClient parses url, opens a client and checks the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RuntimeState is the volatile per-session state kept next to the durable
// session row.
type RuntimeState struct {
	Status        model.SessionStatus `json:"status"`
	Mode          model.Mode          `json:"mode"`
	LastHeartbeat time.Time           `json:"last_heartbeat"`
	ActiveKind    model.Kind          `json:"active_kind,omitempty"`
}

// RuntimeStore keeps RuntimeState in Redis as JSON with a sliding TTL.
type RuntimeStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRuntimeStore(client *redis.Client) *RuntimeStore {
	return &RuntimeStore{client: client, ttl: RuntimeTTL}
}

func (r *RuntimeStore) key(sessionID string) string {
	return runtimePrefix + sessionID + runtimeSuffix
}

// Set stores the runtime state with the default TTL
func (r *RuntimeStore) Set(ctx context.Context, sessionID string, state RuntimeState) error {
	data, err := sonic.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal runtime state: %w", err)
	}

	if err := r.client.Set(ctx, r.key(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set runtime state: %w", err)
	}
	return nil
}

// GetAndTouch reads the runtime state and extends its TTL.
func (r *RuntimeStore) GetAndTouch(ctx context.Context, sessionID string) (*RuntimeState, error) {
	data, err := r.client.GetEx(ctx, r.key(sessionID), r.ttl).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("runtime state of session %s: %w", sessionID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to GETEX runtime state: %w", err)
	}

	var state RuntimeState
	if err := sonic.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal runtime state: %w", err)
	}
	return &state, nil
}

// Update applies fn to the current state (or a zero state when none is
// stored) and writes the result back.
func (r *RuntimeStore) Update(ctx context.Context, sessionID string, fn func(*RuntimeState)) error {
	state, err := r.GetAndTouch(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		state = &RuntimeState{}
	}
	fn(state)
	state.LastHeartbeat = time.Now().UTC()
	return r.Set(ctx, sessionID, *state)
}

func (r *RuntimeStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete runtime state: %w", err)
	}
	return nil
}

// GetTTL gets remaining TTL of a session's runtime state
func (r *RuntimeStore) GetTTL(ctx context.Context, sessionID string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.key(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get TTL: %w", err)
	}
	return ttl, nil
}

package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"learnassist/src/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_OrderIndependent(t *testing.T) {
	a := map[string]any{
		"text":    "The cat sat.",
		"options": map[string]any{"strict": true, "level": 3},
	}
	b := map[string]any{
		"options": map[string]any{"level": 3, "strict": true},
		"text":    "The cat sat.",
	}

	ka, err := Key(model.KindGrammarCheck, a)
	require.NoError(t, err)
	kb, err := Key(model.KindGrammarCheck, b)
	require.NoError(t, err)

	assert.Equal(t, ka, kb)
	assert.True(t, strings.HasPrefix(ka, "analysis:grammar_check:"))
	assert.Len(t, strings.TrimPrefix(ka, "analysis:grammar_check:"), 64)
}

func TestKey_DiffersByKindAndInputs(t *testing.T) {
	inputs := map[string]any{"text": "x"}
	k1, err := Key(model.KindGrammarCheck, inputs)
	require.NoError(t, err)
	k2, err := Key(model.KindPolish, inputs)
	require.NoError(t, err)
	k3, err := Key(model.KindGrammarCheck, map[string]any{"text": "y"})
	require.NoError(t, err)

	assert.NotEqual(t, strings.TrimPrefix(k1, "analysis:grammar_check:"), strings.TrimPrefix(k2, "analysis:polish:"))
	assert.NotEqual(t, k1, k3)
}

func TestKey_NilInputsEqualEmpty(t *testing.T) {
	k1, err := Key(model.KindChat, nil)
	require.NoError(t, err)
	k2, err := Key(model.KindChat, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

type cacheFixture struct {
	cache   Cache
	advance func(time.Duration)
}

func fixtures() map[string]func(t *testing.T) cacheFixture {
	return map[string]func(t *testing.T) cacheFixture{
		"redis": func(t *testing.T) cacheFixture {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return cacheFixture{cache: NewRedisCache(client), advance: mr.FastForward}
		},
		"memory": func(t *testing.T) cacheFixture {
			c := NewMemoryCache()
			now := time.Now()
			c.now = func() time.Time { return now }
			return cacheFixture{cache: c, advance: func(d time.Duration) { now = now.Add(d) }}
		},
	}
}

func TestCache_SetGetCountsHits(t *testing.T) {
	ctx := context.Background()
	for name, newFixture := range fixtures() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			key, err := Key(model.KindGrammarCheck, map[string]any{"text": "abc"})
			require.NoError(t, err)

			_, ok, err := f.cache.Get(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			payload := map[string]any{"errors": []any{map[string]any{"word": "teh"}}, "score": float64(7)}
			require.NoError(t, f.cache.Set(ctx, key, payload, time.Minute))

			entry, ok, err := f.cache.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, payload, entry.Payload)
			assert.Equal(t, int64(1), entry.HitCount)

			entry, ok, err = f.cache.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int64(2), entry.HitCount)
		})
	}
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	for name, newFixture := range fixtures() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.cache.Set(ctx, "analysis:chat:k", map[string]any{"content": "hi"}, time.Second))

			f.advance(2 * time.Second)

			_, ok, err := f.cache.Get(ctx, "analysis:chat:k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	for name, newFixture := range fixtures() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			for _, key := range []string{"analysis:polish:a", "analysis:polish:b", "analysis:chat:c"} {
				require.NoError(t, f.cache.Set(ctx, key, map[string]any{"k": key}, time.Minute))
			}

			removed, err := f.cache.InvalidateKind(ctx, model.KindPolish)
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			_, ok, err := f.cache.Get(ctx, "analysis:polish:a")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, f.cache.Invalidate(ctx, "analysis:chat:c"))
			_, ok, err = f.cache.Get(ctx, "analysis:chat:c")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCache_PayloadIsNotShared(t *testing.T) {
	ctx := context.Background()
	for name, newFixture := range fixtures() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			payload := map[string]any{"errors": "none"}
			require.NoError(t, f.cache.Set(ctx, "analysis:grammar_check:k", payload, time.Minute))
			payload["errors"] = "changed after set"

			entry, ok, err := f.cache.Get(ctx, "analysis:grammar_check:k")
			require.NoError(t, err)
			require.True(t, ok)
			entry.Payload["errors"] = "changed by reader"

			again, ok, err := f.cache.Get(ctx, "analysis:grammar_check:k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "none", again.Payload["errors"])
		})
	}
}

func TestRedisCache_MissDoesNotCreateKey(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := NewRedisCache(client)

	require.NoError(t, c.Set(ctx, "analysis:polish:k", map[string]any{"versions": []any{}}, time.Second))
	entry, ok, err := c.Get(ctx, "analysis:polish:k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.False(t, entry.ExpiresAt.IsZero())

	mr.FastForward(2 * time.Second)

	_, ok, err = c.Get(ctx, "analysis:polish:k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("analysis:polish:k"), "a miss must not leave a bare hit counter behind")

	_, ok, err = c.Get(ctx, "analysis:polish:never")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("analysis:polish:never"))
}

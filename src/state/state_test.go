package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"learnassist/src/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, content ContentCache) *Store {
	t.Helper()
	db, err := Open(model.DatabaseConfig{Path: filepath.Join(t.TempDir(), "state.db"), MaxOpenConns: 4})
	require.NoError(t, err)
	s, err := New(db, content, model.StateConfig{ContentCacheTTL: time.Hour, HistoryLimit: 50})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(t *testing.T, s *Store) *model.Session {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), "u1", "", "")
	require.NoError(t, err)
	return sess
}

func syncText(t *testing.T, s *Store, sessionID, content string) *model.StateVersion {
	t.Helper()
	v, err := s.Sync(context.Background(), model.SyncRequest{SessionID: sessionID, Content: content})
	require.NoError(t, err)
	return v
}

func intPtr(v int) *int { return &v }

func TestSync_SequentialVersions(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)

	for i := 1; i <= 5; i++ {
		v := syncText(t, s, sess.ID, fmt.Sprintf("draft %d", i))
		assert.Equal(t, i, v.Version)
		assert.Equal(t, i-1, v.ParentVersion)
		assert.Equal(t, model.ChangeTypeEdit, v.ChangeType)
	}

	n, err := s.VerifyChain(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := s.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TotalInteractions)
}

func TestSync_DerivedMetrics(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)

	v, err := s.Sync(context.Background(), model.SyncRequest{
		SessionID:    sess.ID,
		Content:      "Hello world, 你好",
		ChangedRange: &model.Range{Start: 0, End: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, v.WordCount)
	assert.Equal(t, 15, v.Length)
	assert.Equal(t, ContentHash("Hello world, 你好"), v.ContentHash)

	stored, err := s.GetVersion(context.Background(), sess.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, stored.ChangedRange)
	assert.Equal(t, model.Range{Start: 0, End: 5}, *stored.ChangedRange)
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestSync_StaleExplicitVersionConflicts(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)
	ctx := context.Background()

	syncText(t, s, sess.ID, "Hello")
	syncText(t, s, sess.ID, "Hello there")

	_, err := s.Sync(ctx, model.SyncRequest{SessionID: sess.ID, Content: "Hello world", ExplicitVersion: intPtr(1)})
	var conflict *model.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.Expected)
	assert.Equal(t, 2, conflict.Actual)

	typ, code := model.ErrorInfo(err)
	assert.Equal(t, model.ErrorTypeVersionConflict, typ)
	assert.Equal(t, "SESSION_VERSION_CONFLICT", code)

	v, err := s.Sync(ctx, model.SyncRequest{SessionID: sess.ID, Content: "Hello world", ExplicitVersion: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, v.Version)

	v, err = s.Sync(ctx, model.SyncRequest{SessionID: sess.ID, Content: "jump", ExplicitVersion: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, 4, v.Version, "numbering stays gapless")
}

func TestSync_ConcurrentWritersGapless(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)

	const writers = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions = make(map[int]bool)
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.Sync(context.Background(), model.SyncRequest{SessionID: sess.ID, Content: fmt.Sprintf("writer %d", i)})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			versions[v.Version] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, versions, writers)
	for i := 1; i <= writers; i++ {
		assert.True(t, versions[i], "missing version %d", i)
	}
	n, err := s.VerifyChain(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, n)
}

func TestSync_UnknownSession(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.Sync(context.Background(), model.SyncRequest{SessionID: "missing", Content: "x"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRollbackTo(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)
	ctx := context.Background()

	syncText(t, s, sess.ID, "first")
	syncText(t, s, sess.ID, "second")
	syncText(t, s, sess.ID, "third")

	v, err := s.RollbackTo(ctx, sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, v.Version)
	assert.Equal(t, 3, v.ParentVersion)
	assert.Equal(t, "first", v.Content)
	assert.Equal(t, model.ChangeTypeRollback, v.ChangeType)

	history, err := s.History(ctx, sess.ID, model.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, []string{"first", "third", "second", "first"},
		[]string{history[0].Content, history[1].Content, history[2].Content, history[3].Content})

	_, err = s.RollbackTo(ctx, sess.ID, 9)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestHistory_RangeAndLimit(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)
	ctx := context.Background()
	for i := 1; i <= 6; i++ {
		syncText(t, s, sess.ID, fmt.Sprintf("v%d", i))
	}

	tests := []struct {
		name  string
		query model.HistoryQuery
		want  []int
	}{
		{"all", model.HistoryQuery{}, []int{6, 5, 4, 3, 2, 1}},
		{"limit", model.HistoryQuery{Limit: 2}, []int{6, 5}},
		{"from", model.HistoryQuery{From: intPtr(4)}, []int{6, 5, 4}},
		{"to", model.HistoryQuery{To: intPtr(2)}, []int{2, 1}},
		{"window", model.HistoryQuery{From: intPtr(2), To: intPtr(4), Limit: 2}, []int{4, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.History(ctx, sess.ID, tt.query)
			require.NoError(t, err)
			var versions []int
			for _, v := range got {
				versions = append(versions, v.Version)
			}
			assert.Equal(t, tt.want, versions)
		})
	}

	_, err := s.History(ctx, sess.ID, model.HistoryQuery{From: intPtr(5), To: intPtr(2)})
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDiffAndStatistics(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)
	ctx := context.Background()

	syncText(t, s, sess.ID, "one")
	syncText(t, s, sess.ID, "one two three")
	syncText(t, s, sess.ID, "one two three four five")

	diff, err := s.Diff(ctx, sess.ID, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, diff.WordCountDiff)
	assert.Equal(t, 2, diff.TotalChanges)
	assert.Equal(t, 2, diff.Changes[0].Version)
	assert.Equal(t, 3, diff.Changes[1].Version)

	_, err = s.Diff(ctx, sess.ID, 1, 7)
	assert.ErrorIs(t, err, model.ErrNotFound)

	stats, err := s.Statistics(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalVersions)
	assert.Equal(t, 3, stats.LatestVersion)
	assert.Equal(t, 5, stats.MaxWordCount)
	assert.InDelta(t, 3.0, stats.AvgWordCount, 0.001)

	empty, err := s.Statistics(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalVersions)
}

func TestFindByContentHash(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)
	ctx := context.Background()

	syncText(t, s, sess.ID, "same")
	syncText(t, s, sess.ID, "other")
	syncText(t, s, sess.ID, "same")

	v, err := s.FindByContentHash(ctx, sess.ID, ContentHash("same"))
	require.NoError(t, err)
	assert.Equal(t, 3, v.Version)

	_, err = s.FindByContentHash(ctx, sess.ID, ContentHash("never"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestVersionsAreImmutable(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)
	ctx := context.Background()
	syncText(t, s, sess.ID, "original")

	_, err := s.db.ExecContext(ctx, `UPDATE state_versions SET content = 'changed' WHERE session_id = ?`, sess.ID)
	assert.Error(t, err)
	_, err = s.db.ExecContext(ctx, `DELETE FROM state_versions WHERE session_id = ?`, sess.ID)
	assert.Error(t, err)

	_, err = s.db.ExecContext(ctx, `DROP TRIGGER state_versions_immutable_update`)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE state_versions SET content = 'tampered' WHERE session_id = ?`, sess.ID)
	require.NoError(t, err)

	_, err = s.VerifyChain(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrChainBroken)
}

func TestDeletedSessionRejectsWritesKeepsReads(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)
	ctx := context.Background()
	syncText(t, s, sess.ID, "kept")

	require.NoError(t, s.DeleteSession(ctx, sess.ID))

	_, err := s.Sync(ctx, model.SyncRequest{SessionID: sess.ID, Content: "new"})
	assert.ErrorIs(t, err, model.ErrSessionDeleted)
	_, err = s.RollbackTo(ctx, sess.ID, 1)
	assert.ErrorIs(t, err, model.ErrSessionDeleted)
	_, err = s.UpdateMode(ctx, sess.ID, model.ModeScience)
	assert.ErrorIs(t, err, model.ErrSessionDeleted)
	assert.ErrorIs(t, s.DeleteSession(ctx, sess.ID), model.ErrSessionDeleted)

	history, err := s.History(ctx, sess.ID, model.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "kept", history[0].Content)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionDeleted, got.Status)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	s.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	sess, err := s.CreateSession(ctx, "u1", "", "")
	require.NoError(t, err)
	assert.Equal(t, model.ModeLiterature, sess.Mode)
	assert.Equal(t, "Study session - 2026-03-01 09:30", sess.Title)
	assert.Equal(t, model.SessionActive, sess.Status)

	_, err = s.CreateSession(ctx, "u1", model.Mode("poetry"), "")
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "mode", verr.Field)

	_, err = s.CreateSession(ctx, " ", "", "")
	assert.ErrorAs(t, err, &verr)

	updated, err := s.UpdateMode(ctx, sess.ID, model.ModeScience)
	require.NoError(t, err)
	assert.Equal(t, model.ModeScience, updated.Mode)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		created := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return created }
		mode := model.ModeLiterature
		if i%2 == 1 {
			mode = model.ModeScience
		}
		sess, err := s.CreateSession(ctx, "u1", mode, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}
	_, err := s.CreateSession(ctx, "u2", "", "")
	require.NoError(t, err)
	require.NoError(t, s.DeleteSession(ctx, ids[0]))

	page, total, err := s.ListSessions(ctx, model.SessionFilter{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "s4", page[0].Title)
	assert.Equal(t, "s3", page[1].Title)

	page, _, err = s.ListSessions(ctx, model.SessionFilter{UserID: "u1", Limit: 2, Page: 3})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "s0", page[0].Title)

	_, total, err = s.ListSessions(ctx, model.SessionFilter{UserID: "u1", Mode: model.ModeScience})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, total, err = s.ListSessions(ctx, model.SessionFilter{UserID: "u1", Status: model.SessionActive})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestLatestContent_UsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := NewRedisContentCache(client)
	s := newTestStore(t, cache)
	sess := newTestSession(t, s)
	ctx := context.Background()

	syncText(t, s, sess.ID, "alpha")
	syncText(t, s, sess.ID, "alpha beta")

	assert.Equal(t, "2", mr.HGet(contentKey(sess.ID), "version"))
	assert.Equal(t, "alpha beta", mr.HGet(contentKey(sess.ID), "content"))
	assert.Greater(t, mr.TTL(contentKey(sess.ID)), time.Duration(0))

	c, err := s.LatestContent(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Version)
	assert.Equal(t, 2, c.WordCount)

	mr.Del(contentKey(sess.ID))
	c, err = s.LatestContent(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha beta", c.Content)
	assert.True(t, mr.Exists(contentKey(sess.ID)), "miss repopulates the cache")

	_, err = s.LatestContent(ctx, "no-such-session")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestContentCache_IgnoresOlderVersions(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	caches := map[string]ContentCache{
		"redis":  NewRedisContentCache(client),
		"memory": NewMemoryContentCache(),
	}
	for name, cache := range caches {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, cache.Set(ctx, "s1", CachedContent{Version: 3, Content: "new", WordCount: 1}, time.Hour))
			require.NoError(t, cache.Set(ctx, "s1", CachedContent{Version: 2, Content: "old", WordCount: 1}, time.Hour))

			c, ok, err := cache.Get(ctx, "s1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "new", c.Content)

			require.NoError(t, cache.Delete(ctx, "s1"))
			_, ok, err = cache.Get(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"one", 1},
		{"don't stop", 2},
		{"x = 3 + 4", 3},
		{"学习助手", 4},
		{"learn 学习 fast", 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CountWords(tt.in), tt.in)
	}
}

func TestIsTransientSQLiteErr(t *testing.T) {
	assert.True(t, isTransientSQLiteErr(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isTransientSQLiteErr(errors.New("no such table")))
}

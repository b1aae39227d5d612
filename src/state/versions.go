package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"

	"learnassist/src/model"
)

// ErrChainBroken is returned by VerifyChain when a stored version does not
// link to its predecessor or its content no longer matches its hash.
var ErrChainBroken = errors.New("state version chain broken")

const versionColumns = `session_id, version, content, content_hash, word_count, length,
	parent_version, change_type, range_start, range_end, created_at`

// Sync appends a new version holding req.Content. The latest version is read
// and the next one inserted inside a single write transaction, so concurrent
// writers on the same session always receive distinct, gapless numbers.
func (s *Store) Sync(ctx context.Context, req model.SyncRequest) (*model.StateVersion, error) {
	if req.SessionID == "" {
		return nil, model.NewValidationError("session_id", "is required")
	}
	changeType := req.ChangeType
	if changeType == "" {
		changeType = model.ChangeTypeEdit
	}
	if r := req.ChangedRange; r != nil && (r.Start < 0 || r.End < r.Start) {
		return nil, model.NewValidationError("changed_range", "start must be >= 0 and <= end")
	}

	v := &model.StateVersion{
		SessionID:    req.SessionID,
		Content:      req.Content,
		ContentHash:  ContentHash(req.Content),
		WordCount:    CountWords(req.Content),
		Length:       utf8.RuneCountInString(req.Content),
		ChangeType:   changeType,
		ChangedRange: req.ChangedRange,
	}

	err := retryOnContention(ctx, func() error {
		return s.appendVersion(ctx, v, req.ExplicitVersion)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("session_id", v.SessionID).
		Int("version", v.Version).
		Str("change_type", v.ChangeType).
		Int("word_count", v.WordCount).
		Msg("State version saved")

	s.refreshContent(ctx, v)
	return v, nil
}

func (s *Store) appendVersion(ctx context.Context, v *model.StateVersion, explicit *int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	defer tx.Rollback()

	if err := requireActive(ctx, tx, v.SessionID); err != nil {
		return err
	}

	var latest int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM state_versions WHERE session_id = ?`,
		v.SessionID).Scan(&latest)
	if err != nil {
		return fmt.Errorf("read latest version: %w", err)
	}
	if explicit != nil && *explicit <= latest {
		return &model.VersionConflictError{SessionID: v.SessionID, Expected: *explicit, Actual: latest}
	}

	now := s.now()
	v.Version = latest + 1
	v.ParentVersion = latest
	v.CreatedAt = now

	var start, end sql.NullInt64
	if v.ChangedRange != nil {
		start = sql.NullInt64{Int64: int64(v.ChangedRange.Start), Valid: true}
		end = sql.NullInt64{Int64: int64(v.ChangedRange.End), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO state_versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.SessionID, v.Version, v.Content, v.ContentHash, v.WordCount, v.Length,
		v.ParentVersion, v.ChangeType, start, end, formatTime(now))
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET total_interactions = total_interactions + 1, updated_at = ? WHERE id = ?`,
		formatTime(now), v.SessionID)
	if err != nil {
		return fmt.Errorf("update session counters: %w", err)
	}
	return tx.Commit()
}

func requireActive(ctx context.Context, tx *sql.Tx, sessionID string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if model.SessionStatus(status) == model.SessionDeleted {
		return fmt.Errorf("session %s: %w", sessionID, model.ErrSessionDeleted)
	}
	return nil
}

// refreshContent updates the fast-path cache. Failures are logged only; the
// database stays the source of truth.
func (s *Store) refreshContent(ctx context.Context, v *model.StateVersion) {
	if s.content == nil {
		return
	}
	err := s.content.Set(ctx, v.SessionID, CachedContent{
		Version:   v.Version,
		Content:   v.Content,
		WordCount: v.WordCount,
	}, s.contentTTL)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", v.SessionID).Msg("Failed to refresh content cache")
	}
}

// RollbackTo appends a copy of the target version as a new version. Versions
// 1..latest are left untouched.
func (s *Store) RollbackTo(ctx context.Context, sessionID string, target int) (*model.StateVersion, error) {
	old, err := s.GetVersion(ctx, sessionID, target)
	if err != nil {
		return nil, err
	}
	return s.Sync(ctx, model.SyncRequest{
		SessionID:  sessionID,
		Content:    old.Content,
		ChangeType: model.ChangeTypeRollback,
	})
}

// GetVersion returns one stored version, or ErrNotFound.
func (s *Store) GetVersion(ctx context.Context, sessionID string, version int) (*model.StateVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+`
		FROM state_versions WHERE session_id = ? AND version = ?`, sessionID, version)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s version %d: %w", sessionID, version, model.ErrNotFound)
	}
	return v, err
}

// Latest returns the newest version of a session, or ErrNotFound when the
// session has no versions yet.
func (s *Store) Latest(ctx context.Context, sessionID string) (*model.StateVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+`
		FROM state_versions WHERE session_id = ? ORDER BY version DESC LIMIT 1`, sessionID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s has no versions: %w", sessionID, model.ErrNotFound)
	}
	return v, err
}

// LatestContent reads the latest document through the fast-path cache and
// falls back to the database on a miss, repopulating the cache.
func (s *Store) LatestContent(ctx context.Context, sessionID string) (*CachedContent, error) {
	if s.content != nil {
		c, ok, err := s.content.Get(ctx, sessionID)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("Content cache read failed")
		} else if ok {
			return c, nil
		}
	}
	v, err := s.Latest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.refreshContent(ctx, v)
	return &CachedContent{Version: v.Version, Content: v.Content, WordCount: v.WordCount}, nil
}

// History returns versions newest first, optionally bounded to [From, To].
func (s *Store) History(ctx context.Context, sessionID string, q model.HistoryQuery) ([]model.StateVersion, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = s.historyLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if q.From != nil && q.To != nil && *q.From > *q.To {
		return nil, model.NewValidationError("from", "must not exceed to")
	}

	query := `SELECT ` + versionColumns + ` FROM state_versions WHERE session_id = ?`
	args := []any{sessionID}
	if q.From != nil {
		query += ` AND version >= ?`
		args = append(args, *q.From)
	}
	if q.To != nil {
		query += ` AND version <= ?`
		args = append(args, *q.To)
	}
	query += ` ORDER BY version DESC LIMIT ?`
	args = append(args, limit)

	return s.queryVersions(ctx, query, args...)
}

// Diff summarizes the changes after from up to and including to.
func (s *Store) Diff(ctx context.Context, sessionID string, from, to int) (*model.VersionDiff, error) {
	if from > to {
		return nil, model.NewValidationError("from", "must not exceed to")
	}
	fromV, err := s.GetVersion(ctx, sessionID, from)
	if err != nil {
		return nil, err
	}
	toV, err := s.GetVersion(ctx, sessionID, to)
	if err != nil {
		return nil, err
	}

	between, err := s.queryVersions(ctx, `SELECT `+versionColumns+` FROM state_versions
		WHERE session_id = ? AND version > ? AND version <= ? ORDER BY version`, sessionID, from, to)
	if err != nil {
		return nil, err
	}
	changes := make([]model.VersionChange, 0, len(between))
	for _, v := range between {
		changes = append(changes, model.VersionChange{
			Version:      v.Version,
			ChangeType:   v.ChangeType,
			ChangedRange: v.ChangedRange,
			CreatedAt:    v.CreatedAt,
		})
	}
	return &model.VersionDiff{
		FromVersion:   from,
		ToVersion:     to,
		WordCountDiff: toV.WordCount - fromV.WordCount,
		Changes:       changes,
		TotalChanges:  len(changes),
	}, nil
}

// Statistics aggregates the version chain of a session.
func (s *Store) Statistics(ctx context.Context, sessionID string) (*model.StateStatistics, error) {
	var (
		stats model.StateStatistics
		avg   sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(MAX(version), 0),
		AVG(word_count), COALESCE(MAX(word_count), 0)
		FROM state_versions WHERE session_id = ?`, sessionID).
		Scan(&stats.TotalVersions, &stats.LatestVersion, &avg, &stats.MaxWordCount)
	if err != nil {
		return nil, fmt.Errorf("state statistics: %w", err)
	}
	stats.AvgWordCount = avg.Float64
	return &stats, nil
}

// FindByContentHash returns the newest version whose content hashes to hash.
func (s *Store) FindByContentHash(ctx context.Context, sessionID, hash string) (*model.StateVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM state_versions
		WHERE session_id = ? AND content_hash = ? ORDER BY version DESC LIMIT 1`, sessionID, hash)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content hash %s: %w", hash, model.ErrNotFound)
	}
	return v, err
}

// VerifyChain walks every version of a session in order and checks that
// numbering is gapless, each parent is the previous version and every
// content hash still matches. It returns the number of versions checked.
func (s *Store) VerifyChain(ctx context.Context, sessionID string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, parent_version, content, content_hash
		FROM state_versions WHERE session_id = ? ORDER BY version`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("verify chain: %w", err)
	}
	defer rows.Close()

	expected := 1
	for rows.Next() {
		var (
			version, parent int
			content, hash   string
		)
		if err := rows.Scan(&version, &parent, &content, &hash); err != nil {
			return 0, fmt.Errorf("scan version: %w", err)
		}
		switch {
		case version != expected:
			return expected - 1, fmt.Errorf("%w: expected version %d, found %d", ErrChainBroken, expected, version)
		case parent != version-1:
			return expected - 1, fmt.Errorf("%w: version %d has parent %d", ErrChainBroken, version, parent)
		case ContentHash(content) != hash:
			return expected - 1, fmt.Errorf("%w: version %d content hash mismatch", ErrChainBroken, version)
		}
		expected++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("verify chain: %w", err)
	}
	return expected - 1, nil
}

func (s *Store) queryVersions(ctx context.Context, query string, args ...any) ([]model.StateVersion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var out []model.StateVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(row scanner) (*model.StateVersion, error) {
	var (
		v          model.StateVersion
		start, end sql.NullInt64
		createdAt  string
	)
	err := row.Scan(&v.SessionID, &v.Version, &v.Content, &v.ContentHash, &v.WordCount, &v.Length,
		&v.ParentVersion, &v.ChangeType, &start, &end, &createdAt)
	if err != nil {
		return nil, err
	}
	if start.Valid && end.Valid {
		v.ChangedRange = &model.Range{Start: int(start.Int64), End: int(end.Int64)}
	}
	v.CreatedAt = parseTime(createdAt)
	return &v, nil
}

// Package state persists sessions and the append-only version chain of each
// session's document in SQLite.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"learnassist/src/logger"
	"learnassist/src/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

const maxHistoryLimit = 1000

// Store manages sessions and state versions. Write transactions are opened
// with BEGIN IMMEDIATE, so the read-latest/insert-next step of a sync holds
// the database write lock for its whole duration.
type Store struct {
	db           *sql.DB
	content      ContentCache
	contentTTL   time.Duration
	historyLimit int
	log          *zerolog.Logger
	now          func() time.Time
}

// Open opens (or creates) the SQLite database at path.
func Open(cfg model.DatabaseConfig) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// New initializes the schema on db. content may be nil, in which case
// latest-content reads always go to the database.
func New(db *sql.DB, content ContentCache, cfg model.StateConfig) (*Store, error) {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 50
	}
	s := &Store{
		db:           db,
		content:      content,
		contentTTL:   cfg.ContentCacheTTL,
		historyLimit: limit,
		log:          logger.Component("state"),
		now:          time.Now,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		mode               TEXT NOT NULL,
		title              TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL DEFAULT 'active',
		total_interactions INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS state_versions (
		session_id     TEXT NOT NULL REFERENCES sessions(id),
		version        INTEGER NOT NULL CHECK (version >= 1),
		content        TEXT NOT NULL,
		content_hash   TEXT NOT NULL,
		word_count     INTEGER NOT NULL,
		length         INTEGER NOT NULL,
		parent_version INTEGER NOT NULL DEFAULT 0,
		change_type    TEXT NOT NULL,
		range_start    INTEGER,
		range_end      INTEGER,
		created_at     TEXT NOT NULL,
		PRIMARY KEY (session_id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_state_versions_hash ON state_versions(session_id, content_hash);

	CREATE TRIGGER IF NOT EXISTS state_versions_immutable_update
	BEFORE UPDATE ON state_versions
	BEGIN
		SELECT RAISE(ABORT, 'state versions are immutable');
	END;

	CREATE TRIGGER IF NOT EXISTS state_versions_immutable_delete
	BEFORE DELETE ON state_versions
	BEGIN
		SELECT RAISE(ABORT, 'state versions are immutable');
	END;

	CREATE TABLE IF NOT EXISTS analysis_results (
		session_id TEXT NOT NULL,
		version    INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (session_id, version, kind),
		FOREIGN KEY (session_id, version) REFERENCES state_versions(session_id, version)
	);

	CREATE TABLE IF NOT EXISTS analysis_nodes (
		session_id TEXT NOT NULL,
		version    INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		node_id    TEXT NOT NULL,
		parent_id  TEXT NOT NULL DEFAULT '',
		depth      INTEGER NOT NULL,
		position   INTEGER NOT NULL,
		node_type  TEXT NOT NULL DEFAULT '',
		label      TEXT NOT NULL,
		summary    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (session_id, version, kind, node_id),
		FOREIGN KEY (session_id, version, kind) REFERENCES analysis_results(session_id, version, kind) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS annotations (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		version     INTEGER NOT NULL,
		kind        TEXT NOT NULL,
		error_type  TEXT NOT NULL,
		severity    TEXT NOT NULL,
		original    TEXT NOT NULL DEFAULT '',
		suggestion  TEXT NOT NULL DEFAULT '',
		explanation TEXT NOT NULL DEFAULT '',
		start_pos   INTEGER,
		end_pos     INTEGER,
		line        INTEGER,
		status      TEXT NOT NULL DEFAULT 'pending',
		created_at  TEXT NOT NULL,
		resolved_at TEXT,
		FOREIGN KEY (session_id, version, kind) REFERENCES analysis_results(session_id, version, kind) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_annotations_version ON annotations(session_id, version);
	`
	_, err := s.db.Exec(schema)
	return err
}

// retryOnContention retries fn on transient SQLite errors. Any other error
// is returned as is on the first failure.
func retryOnContention(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.Retry(func() error {
		err := fn()
		if err == nil || isTransientSQLiteErr(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx))
}

func isTransientSQLiteErr(err error) bool {
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

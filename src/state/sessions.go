package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"learnassist/src/model"

	"github.com/google/uuid"
)

const sessionColumns = `id, user_id, mode, title, status, total_interactions, created_at, updated_at`

// CreateSession starts a new session. An empty mode means the default mode
// and an empty title is generated from the creation time.
func (s *Store) CreateSession(ctx context.Context, userID string, mode model.Mode, title string) (*model.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.NewValidationError("user_id", "is required")
	}
	if mode == "" {
		mode = model.DefaultMode
	}
	if !mode.Valid() {
		return nil, model.NewValidationError("mode", fmt.Sprintf("unknown mode %q", mode))
	}

	now := s.now()
	if title == "" {
		title = "Study session - " + now.Format("2006-01-02 15:04")
	}
	sess := &model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Mode:      mode,
		Title:     title,
		Status:    model.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			sess.ID, sess.UserID, string(sess.Mode), sess.Title, string(sess.Status),
			formatTime(now), formatTime(now))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info().Str("session_id", sess.ID).Str("user_id", userID).Str("mode", string(mode)).Msg("Session created")
	return sess, nil
}

// GetSession returns a session regardless of its status.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns one page of sessions, newest first, and the total
// number of sessions matching the filter.
func (s *Store) ListSessions(ctx context.Context, f model.SessionFilter) ([]model.Session, int, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, string(f.Mode))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := f.Page
	if page < 1 {
		page = 1
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions`+clause+
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, total, rows.Err()
}

// UpdateMode switches the mode of an active session.
func (s *Store) UpdateMode(ctx context.Context, id string, mode model.Mode) (*model.Session, error) {
	if !mode.Valid() {
		return nil, model.NewValidationError("mode", fmt.Sprintf("unknown mode %q", mode))
	}
	err := s.updateActive(ctx, id, `UPDATE sessions SET mode = ?, updated_at = ? WHERE id = ?`,
		string(mode), formatTime(s.now()), id)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("session_id", id).Str("mode", string(mode)).Msg("Session mode updated")
	return s.GetSession(ctx, id)
}

// DeleteSession marks a session deleted. Its history stays readable; further
// writes fail with ErrSessionDeleted.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	err := s.updateActive(ctx, id, `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.SessionDeleted), formatTime(s.now()), id)
	if err != nil {
		return err
	}
	if s.content != nil {
		if err := s.content.Delete(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("session_id", id).Msg("Failed to drop cached content")
		}
	}
	s.log.Info().Str("session_id", id).Msg("Session deleted")
	return nil
}

func (s *Store) updateActive(ctx context.Context, id, stmt string, args ...any) error {
	return retryOnContention(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin session update: %w", err)
		}
		defer tx.Rollback()

		if err := requireActive(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return tx.Commit()
	})
}

func scanSession(row scanner) (*model.Session, error) {
	var (
		sess                 model.Session
		mode, status         string
		createdAt, updatedAt string
	)
	err := row.Scan(&sess.ID, &sess.UserID, &mode, &sess.Title, &status,
		&sess.TotalInteractions, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sess.Mode = model.Mode(mode)
	sess.Status = model.SessionStatus(status)
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"learnassist/src/model"

	"github.com/bytedance/sonic"
)

var annotationStatuses = map[string]bool{
	model.AnnotationPending:  true,
	model.AnnotationAccepted: true,
	model.AnnotationRejected: true,
	model.AnnotationIgnored:  true,
}

// SaveAnalysis stores rec against its document version. An earlier record of
// the same kind for that version is replaced together with its nodes and
// annotations, so re-running an analysis never accumulates duplicates.
func (s *Store) SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord) error {
	if rec.SessionID == "" {
		return model.NewValidationError("session_id", "is required")
	}
	if rec.Version < 1 {
		return model.NewValidationError("version", "must be >= 1")
	}
	if rec.Kind == "" {
		return model.NewValidationError("kind", "is required")
	}
	payload, err := sonic.MarshalString(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode analysis payload: %w", err)
	}
	rec.CreatedAt = s.now().UTC()

	err = retryOnContention(ctx, func() error {
		return s.replaceAnalysis(ctx, rec, payload)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("session_id", rec.SessionID).
		Int("version", rec.Version).
		Str("kind", string(rec.Kind)).
		Int("nodes", len(rec.Nodes)).
		Int("annotations", len(rec.Annotations)).
		Msg("Analysis saved")
	return nil
}

func (s *Store) replaceAnalysis(ctx context.Context, rec *model.AnalysisRecord, payload string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save analysis: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM state_versions WHERE session_id = ? AND version = ?`,
		rec.SessionID, rec.Version).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s version %d: %w", rec.SessionID, rec.Version, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM annotations WHERE session_id = ? AND version = ? AND kind = ?`,
		`DELETE FROM analysis_nodes WHERE session_id = ? AND version = ? AND kind = ?`,
		`DELETE FROM analysis_results WHERE session_id = ? AND version = ? AND kind = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, rec.SessionID, rec.Version, rec.Kind); err != nil {
			return fmt.Errorf("clear previous analysis: %w", err)
		}
	}

	created := formatTime(rec.CreatedAt)
	_, err = tx.ExecContext(ctx, `INSERT INTO analysis_results (session_id, version, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`, rec.SessionID, rec.Version, rec.Kind, payload, created)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	for i, n := range rec.Nodes {
		_, err := tx.ExecContext(ctx, `INSERT INTO analysis_nodes
			(session_id, version, kind, seq, node_id, parent_id, depth, position, node_type, label, summary)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.SessionID, rec.Version, rec.Kind, i, n.NodeID, n.ParentID, n.Depth, n.Position, n.Type, n.Label, n.Summary)
		if err != nil {
			return fmt.Errorf("insert node %s: %w", n.NodeID, err)
		}
	}

	for i := range rec.Annotations {
		a := &rec.Annotations[i]
		a.SessionID, a.Version, a.Kind = rec.SessionID, rec.Version, rec.Kind
		a.Status = model.AnnotationPending
		a.CreatedAt = rec.CreatedAt
		a.ResolvedAt = nil
		res, err := tx.ExecContext(ctx, `INSERT INTO annotations
			(session_id, version, kind, error_type, severity, original, suggestion, explanation,
			 start_pos, end_pos, line, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.SessionID, a.Version, a.Kind, a.ErrorType, a.Severity, a.Original, a.Suggestion, a.Explanation,
			nullableInt(a.Start), nullableInt(a.End), nullableInt(a.Line), a.Status, created)
		if err != nil {
			return fmt.Errorf("insert annotation: %w", err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("annotation id: %w", err)
		}
	}

	return tx.Commit()
}

// GetAnalysis returns the stored record of kind for one version, with its
// nodes in pre-order and its annotations in insertion order.
func (s *Store) GetAnalysis(ctx context.Context, sessionID string, version int, kind model.Kind) (*model.AnalysisRecord, error) {
	var payload, created string
	err := s.db.QueryRowContext(ctx, `SELECT payload, created_at FROM analysis_results
		WHERE session_id = ? AND version = ? AND kind = ?`, sessionID, version, kind).Scan(&payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s analysis of session %s version %d: %w", kind, sessionID, version, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read analysis: %w", err)
	}

	rec := &model.AnalysisRecord{SessionID: sessionID, Version: version, Kind: kind, CreatedAt: parseTime(created)}
	if err := sonic.UnmarshalString(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("decode analysis payload: %w", err)
	}
	if rec.Nodes, err = s.Structure(ctx, sessionID, version, kind); err != nil {
		return nil, err
	}
	if rec.Annotations, err = s.queryAnnotations(ctx, `WHERE session_id = ? AND version = ? AND kind = ? ORDER BY id`,
		sessionID, version, kind); err != nil {
		return nil, err
	}
	return rec, nil
}

// Structure returns the stored tree nodes of kind for one version in
// pre-order. It is empty when the version was never analyzed.
func (s *Store) Structure(ctx context.Context, sessionID string, version int, kind model.Kind) ([]model.AnalysisNode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT node_id, parent_id, depth, position, node_type, label, summary
		FROM analysis_nodes WHERE session_id = ? AND version = ? AND kind = ? ORDER BY seq`, sessionID, version, kind)
	if err != nil {
		return nil, fmt.Errorf("query structure: %w", err)
	}
	defer rows.Close()

	nodes := []model.AnalysisNode{}
	for rows.Next() {
		var n model.AnalysisNode
		if err := rows.Scan(&n.NodeID, &n.ParentID, &n.Depth, &n.Position, &n.Type, &n.Label, &n.Summary); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// StructureSummary counts the stored nodes of kind for one version by type
// and reports the tree depth.
func (s *Store) StructureSummary(ctx context.Context, sessionID string, version int, kind model.Kind) (*model.StructureSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT node_type, COUNT(*), MAX(depth) FROM analysis_nodes
		WHERE session_id = ? AND version = ? AND kind = ? GROUP BY node_type`, sessionID, version, kind)
	if err != nil {
		return nil, fmt.Errorf("structure summary: %w", err)
	}
	defer rows.Close()

	sum := &model.StructureSummary{NodesByType: map[string]int{}}
	for rows.Next() {
		var (
			nodeType     string
			count, depth int
		)
		if err := rows.Scan(&nodeType, &count, &depth); err != nil {
			return nil, fmt.Errorf("scan structure summary: %w", err)
		}
		sum.NodesByType[nodeType] = count
		sum.TotalNodes += count
		sum.MaxDepth = max(sum.MaxDepth, depth)
	}
	return sum, rows.Err()
}

// Annotations returns every annotation stored for one version, across kinds.
func (s *Store) Annotations(ctx context.Context, sessionID string, version int) ([]model.Annotation, error) {
	return s.queryAnnotations(ctx, `WHERE session_id = ? AND version = ? ORDER BY id`, sessionID, version)
}

// ResolveAnnotation records the student's decision on an annotation.
func (s *Store) ResolveAnnotation(ctx context.Context, id int64, status string) (*model.Annotation, error) {
	if !annotationStatuses[status] || status == model.AnnotationPending {
		return nil, model.NewValidationError("status", fmt.Sprintf("must be one of accepted, rejected, ignored, got %q", status))
	}
	err := retryOnContention(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE annotations SET status = ?, resolved_at = ? WHERE id = ?`,
			status, formatTime(s.now()), id)
		if err != nil {
			return fmt.Errorf("update annotation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("annotation %d: %w", id, model.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out, err := s.queryAnnotations(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("annotation %d: %w", id, model.ErrNotFound)
	}
	return &out[0], nil
}

// AnnotationStatistics counts a session's annotations by type and status.
func (s *Store) AnnotationStatistics(ctx context.Context, sessionID string) (*model.AnnotationStatistics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT error_type, status, COUNT(*) FROM annotations
		WHERE session_id = ? GROUP BY error_type, status`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("annotation statistics: %w", err)
	}
	defer rows.Close()

	stats := &model.AnnotationStatistics{ByType: map[string]int{}, ByStatus: map[string]int{}}
	for rows.Next() {
		var (
			errorType, status string
			count             int
		)
		if err := rows.Scan(&errorType, &status, &count); err != nil {
			return nil, fmt.Errorf("scan annotation statistics: %w", err)
		}
		stats.ByType[errorType] += count
		stats.ByStatus[status] += count
		stats.Total += count
	}
	return stats, rows.Err()
}

func (s *Store) queryAnnotations(ctx context.Context, where string, args ...any) ([]model.Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, version, kind, error_type, severity, original,
		suggestion, explanation, start_pos, end_pos, line, status, created_at, resolved_at
		FROM annotations `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}
	defer rows.Close()

	out := []model.Annotation{}
	for rows.Next() {
		var (
			a                model.Annotation
			kind, created    string
			start, end, line sql.NullInt64
			resolved         sql.NullString
		)
		err := rows.Scan(&a.ID, &a.SessionID, &a.Version, &kind, &a.ErrorType, &a.Severity, &a.Original,
			&a.Suggestion, &a.Explanation, &start, &end, &line, &a.Status, &created, &resolved)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		a.Kind = model.Kind(kind)
		a.Start, a.End, a.Line = intFromNull(start), intFromNull(end), intFromNull(line)
		a.CreatedAt = parseTime(created)
		if resolved.Valid {
			t := parseTime(resolved.String)
			a.ResolvedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullableInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intFromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

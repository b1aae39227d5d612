package model

import "time"

// Change types recorded on a StateVersion.
const (
	ChangeTypeEdit     = "edit"
	ChangeTypeRollback = "rollback"
)

// Range is a character span of the document touched by a change.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// StateVersion is one immutable snapshot in a session's version chain.
// ParentVersion is 0 for the first version.
type StateVersion struct {
	SessionID     string    `json:"session_id"`
	Version       int       `json:"version"`
	Content       string    `json:"content"`
	ContentHash   string    `json:"content_hash"`
	WordCount     int       `json:"word_count"`
	Length        int       `json:"length"`
	ParentVersion int       `json:"parent_version"`
	ChangeType    string    `json:"change_type"`
	ChangedRange  *Range    `json:"changed_range,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type SyncRequest struct {
	SessionID       string
	Content         string
	ExplicitVersion *int
	ChangeType      string
	ChangedRange    *Range
}

// HistoryQuery bounds a history read. From and To are inclusive; a zero
// Limit means the store default.
type HistoryQuery struct {
	From  *int
	To    *int
	Limit int
}

// VersionChange summarizes one version between two diff endpoints.
type VersionChange struct {
	Version      int       `json:"version"`
	ChangeType   string    `json:"change_type"`
	ChangedRange *Range    `json:"changed_range,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type VersionDiff struct {
	FromVersion   int             `json:"from_version"`
	ToVersion     int             `json:"to_version"`
	WordCountDiff int             `json:"word_count_diff"`
	Changes       []VersionChange `json:"changes"`
	TotalChanges  int             `json:"total_changes"`
}

type StateStatistics struct {
	TotalVersions int     `json:"total_versions"`
	LatestVersion int     `json:"latest_version"`
	AvgWordCount  float64 `json:"avg_word_count"`
	MaxWordCount  int     `json:"max_word_count"`
}

// ----------------------------------------------------
// ================ Session ================

type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionDeleted SessionStatus = "deleted"
)

type Session struct {
	ID                string        `json:"session_id"`
	UserID            string        `json:"user_id"`
	Mode              Mode          `json:"mode"`
	Title             string        `json:"title"`
	Status            SessionStatus `json:"status"`
	TotalInteractions int           `json:"total_interactions"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

type SessionFilter struct {
	UserID string
	Status SessionStatus
	Mode   Mode
	Page   int
	Limit  int
}

// ----------------------------------------------------
// ================ Analysis records ================

// Annotation statuses. New annotations start pending.
const (
	AnnotationPending  = "pending"
	AnnotationAccepted = "accepted"
	AnnotationRejected = "rejected"
	AnnotationIgnored  = "ignored"
)

// AnalysisRecord is the outcome of one analysis run against a stored
// document version. Saving a record again for the same session, version
// and kind replaces the earlier one.
type AnalysisRecord struct {
	SessionID   string         `json:"session_id"`
	Version     int            `json:"version"`
	Kind        Kind           `json:"kind"`
	Payload     map[string]any `json:"payload"`
	Nodes       []AnalysisNode `json:"nodes,omitempty"`
	Annotations []Annotation   `json:"annotations,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AnalysisNode is one node of a stored structure or logic tree. Position is
// the index among the parent's children.
type AnalysisNode struct {
	NodeID   string `json:"node_id"`
	ParentID string `json:"parent_id,omitempty"`
	Depth    int    `json:"depth"`
	Position int    `json:"position"`
	Type     string `json:"type,omitempty"`
	Label    string `json:"label"`
	Summary  string `json:"summary,omitempty"`
}

// Annotation is one reported problem tied to a document version.
type Annotation struct {
	ID          int64      `json:"id"`
	SessionID   string     `json:"session_id"`
	Version     int        `json:"version"`
	Kind        Kind       `json:"kind"`
	ErrorType   string     `json:"error_type"`
	Severity    string     `json:"severity"`
	Original    string     `json:"original,omitempty"`
	Suggestion  string     `json:"suggestion,omitempty"`
	Explanation string     `json:"explanation,omitempty"`
	Start       *int       `json:"start,omitempty"`
	End         *int       `json:"end,omitempty"`
	Line        *int       `json:"line,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

type StructureSummary struct {
	NodesByType map[string]int `json:"node_count_by_type"`
	MaxDepth    int            `json:"max_depth"`
	TotalNodes  int            `json:"total_nodes"`
}

type AnnotationStatistics struct {
	Total    int            `json:"total"`
	ByType   map[string]int `json:"by_type"`
	ByStatus map[string]int `json:"by_status"`
}

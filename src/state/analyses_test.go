package state

import (
	"context"
	"testing"

	"learnassist/src/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func structureRecord(sessionID string, version int) *model.AnalysisRecord {
	return &model.AnalysisRecord{
		SessionID: sessionID,
		Version:   version,
		Kind:      model.KindStructureAnalysis,
		Payload:   map[string]any{"summary": "two paragraphs"},
		Nodes: []model.AnalysisNode{
			{NodeID: "n1", Depth: 0, Type: "essay", Label: "Essay"},
			{NodeID: "n2", ParentID: "n1", Depth: 1, Position: 0, Type: "paragraph", Label: "Opening"},
			{NodeID: "n3", ParentID: "n1", Depth: 1, Position: 1, Type: "paragraph", Label: "Closing"},
			{NodeID: "n4", ParentID: "n3", Depth: 2, Position: 0, Type: "point", Label: "Call to action"},
		},
	}
}

func TestSaveAnalysis_StructureByVersion(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)
	ctx := context.Background()
	syncText(t, s, sess.ID, "first draft")
	syncText(t, s, sess.ID, "second draft")

	require.NoError(t, s.SaveAnalysis(ctx, structureRecord(sess.ID, 1)))

	rec, err := s.GetAnalysis(ctx, sess.ID, 1, model.KindStructureAnalysis)
	require.NoError(t, err)
	assert.Equal(t, "two paragraphs", rec.Payload["summary"])
	require.Len(t, rec.Nodes, 4)
	assert.Equal(t, "Essay", rec.Nodes[0].Label)
	assert.Equal(t, "n3", rec.Nodes[3].ParentID)

	sum, err := s.StructureSummary(ctx, sess.ID, 1, model.KindStructureAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.TotalNodes)
	assert.Equal(t, 2, sum.MaxDepth)
	assert.Equal(t, map[string]int{"essay": 1, "paragraph": 2, "point": 1}, sum.NodesByType)

	_, err = s.GetAnalysis(ctx, sess.ID, 2, model.KindStructureAnalysis)
	assert.ErrorIs(t, err, model.ErrNotFound)

	nodes, err := s.Structure(ctx, sess.ID, 2, model.KindStructureAnalysis)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestSaveAnalysis_ResaveReplaces(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)
	ctx := context.Background()
	syncText(t, s, sess.ID, "She go to school.")

	first := &model.AnalysisRecord{
		SessionID: sess.ID, Version: 1, Kind: model.KindGrammarCheck,
		Payload: map[string]any{"errors": []any{}},
		Annotations: []model.Annotation{
			{ErrorType: "grammar", Severity: "medium", Original: "She go", Suggestion: "She goes", Start: intPtr(0), End: intPtr(6)},
			{ErrorType: "spelling", Severity: "medium", Original: "scool"},
		},
	}
	require.NoError(t, s.SaveAnalysis(ctx, first))
	require.NoError(t, s.SaveAnalysis(ctx, structureRecord(sess.ID, 1)))

	second := &model.AnalysisRecord{
		SessionID: sess.ID, Version: 1, Kind: model.KindGrammarCheck,
		Payload: map[string]any{"errors": []any{}},
		Annotations: []model.Annotation{
			{ErrorType: "grammar", Severity: "medium", Original: "She go", Suggestion: "She goes"},
		},
	}
	require.NoError(t, s.SaveAnalysis(ctx, second))

	list, err := s.Annotations(ctx, sess.ID, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "She goes", list[0].Suggestion)
	assert.Equal(t, model.AnnotationPending, list[0].Status)
	assert.Nil(t, list[0].Start)

	nodes, err := s.Structure(ctx, sess.ID, 1, model.KindStructureAnalysis)
	require.NoError(t, err)
	assert.Len(t, nodes, 4, "other kinds of the same version are untouched")
}

func TestSaveAnalysis_Rejections(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)
	ctx := context.Background()

	err := s.SaveAnalysis(ctx, structureRecord(sess.ID, 1))
	assert.ErrorIs(t, err, model.ErrNotFound)

	var verr *model.ValidationError
	assert.ErrorAs(t, s.SaveAnalysis(ctx, structureRecord(sess.ID, 0)), &verr)
	assert.ErrorAs(t, s.SaveAnalysis(ctx, structureRecord("", 1)), &verr)
}

func TestResolveAnnotationAndStatistics(t *testing.T) {
	s := newTestStore(t, nil)
	sess := newTestSession(t, s)
	ctx := context.Background()
	syncText(t, s, sess.ID, "x = 2\nx + 1 = 4")

	rec := &model.AnalysisRecord{
		SessionID: sess.ID, Version: 1, Kind: model.KindMathValidation,
		Payload: map[string]any{},
		Annotations: []model.Annotation{
			{ErrorType: "math_step", Severity: "high", Line: intPtr(2), Explanation: "2 + 1 is 3"},
			{ErrorType: "math_step", Severity: "high", Line: intPtr(3)},
			{ErrorType: "code", Severity: "low"},
		},
	}
	require.NoError(t, s.SaveAnalysis(ctx, rec))
	require.NotZero(t, rec.Annotations[0].ID)

	resolved, err := s.ResolveAnnotation(ctx, rec.Annotations[0].ID, model.AnnotationAccepted)
	require.NoError(t, err)
	assert.Equal(t, model.AnnotationAccepted, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.Line)
	assert.Equal(t, 2, *resolved.Line)

	_, err = s.ResolveAnnotation(ctx, rec.Annotations[1].ID, "maybe")
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = s.ResolveAnnotation(ctx, 9999, model.AnnotationIgnored)
	assert.ErrorIs(t, err, model.ErrNotFound)

	stats, err := s.AnnotationStatistics(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[string]int{"math_step": 2, "code": 1}, stats.ByType)
	assert.Equal(t, map[string]int{model.AnnotationAccepted: 1, model.AnnotationPending: 2}, stats.ByStatus)
}

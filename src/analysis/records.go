package analysis

import (
	"fmt"

	"learnassist/src/model"

	"github.com/bytedance/sonic"
)

// Severities assigned to annotations whose kind does not report one.
const (
	severityMedium = "medium"
	severityHigh   = "high"
)

// Persistable reports whether results of kind are stored against document
// versions. Chat replies live in the conversation history instead.
func Persistable(kind model.Kind) bool {
	return kind != model.KindChat
}

// Record converts a successful result payload into an AnalysisRecord with
// the tree nodes and annotations it carries. Session and version are left
// for the caller.
func Record(kind model.Kind, data map[string]any) (*model.AnalysisRecord, error) {
	rec := &model.AnalysisRecord{Kind: kind, Payload: data}

	raw, err := sonic.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	switch kind {
	case model.KindStructureAnalysis:
		var out struct {
			Tree *Arena `json:"tree"`
		}
		if err := sonic.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to read structure tree: %w", err)
		}
		if out.Tree != nil {
			rec.Nodes = arenaNodes(out.Tree.Nodes, out.Tree.Order)
		}

	case model.KindLogicTree:
		var out struct {
			Nodes []*ArenaNode `json:"nodes"`
		}
		if err := sonic.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to read logic tree: %w", err)
		}
		byID := make(map[string]*ArenaNode, len(out.Nodes))
		order := make([]string, 0, len(out.Nodes))
		for _, n := range out.Nodes {
			if n == nil {
				continue
			}
			byID[n.ID] = n
			order = append(order, n.ID)
		}
		rec.Nodes = arenaNodes(byID, order)

	case model.KindGrammarCheck:
		var out struct {
			Errors []GrammarIssue `json:"errors"`
		}
		if err := sonic.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to read grammar errors: %w", err)
		}
		for _, e := range out.Errors {
			rec.Annotations = append(rec.Annotations, model.Annotation{
				Kind:        kind,
				ErrorType:   e.Type,
				Severity:    severityMedium,
				Original:    e.Original,
				Suggestion:  e.Correction,
				Explanation: e.Explanation,
				Start:       e.Start,
				End:         e.End,
			})
		}

	case model.KindMathValidation:
		var out struct {
			Results []StepResult `json:"validation_results"`
		}
		if err := sonic.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to read step results: %w", err)
		}
		for _, r := range out.Results {
			if r.Valid == nil || *r.Valid {
				continue
			}
			step := r.Step
			rec.Annotations = append(rec.Annotations, model.Annotation{
				Kind:        kind,
				ErrorType:   "math_step",
				Severity:    severityHigh,
				Suggestion:  r.Correction,
				Explanation: r.Explanation,
				Line:        &step,
			})
		}

	case model.KindDebug:
		var out struct {
			Issues []DebugIssue `json:"issues"`
		}
		if err := sonic.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to read debug issues: %w", err)
		}
		for _, issue := range out.Issues {
			severity := issue.Severity
			if severity == "" {
				severity = severityMedium
			}
			line := issue.Line
			rec.Annotations = append(rec.Annotations, model.Annotation{
				Kind:        kind,
				ErrorType:   "code",
				Severity:    severity,
				Explanation: issue.Message,
				Line:        &line,
			})
		}
	}
	return rec, nil
}

func arenaNodes(nodes map[string]*ArenaNode, order []string) []model.AnalysisNode {
	position := make(map[string]int, len(nodes))
	for _, n := range nodes {
		for i, child := range n.Children {
			position[child] = i
		}
	}

	out := make([]model.AnalysisNode, 0, len(order))
	for _, id := range order {
		n, ok := nodes[id]
		if !ok {
			continue
		}
		out = append(out, model.AnalysisNode{
			NodeID:   n.ID,
			ParentID: n.ParentID,
			Depth:    n.Depth,
			Position: position[id],
			Type:     n.Type,
			Label:    n.Label,
			Summary:  n.Summary,
		})
	}
	return out
}

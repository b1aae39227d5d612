package app

import (
	"context"
	"errors"
	"strings"

	"learnassist/src/analysis"
	"learnassist/src/coordinator"
	"learnassist/src/model"
	"learnassist/src/storage"

	"github.com/google/uuid"
)

// documentField names the input each kind reads the session document from
// when the caller does not supply one.
var documentField = map[model.Kind]string{
	model.KindGrammarCheck:      "text",
	model.KindPolish:            "text",
	model.KindStructureAnalysis: "content",
	model.KindHealthScore:       "text",
	model.KindMathValidation:    "steps",
	model.KindLogicTree:         "content",
	model.KindDebug:             "code",
	model.KindChat:              "document",
}

// TaskRequest is one routed analysis request.
type TaskRequest struct {
	Task   string         `json:"task"`
	Inputs map[string]any `json:"inputs"`
}

// Analyze resolves task against the session's mode, fills the document
// from the latest state version when absent and runs the analysis.
// Routing and session errors are returned; execution failures are reported
// inside the result.
func (a *App) Analyze(ctx context.Context, sessionID, requestID string, req TaskRequest) (*model.ExecutionResult, error) {
	sess, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	kind, err := a.Router.Resolve(req.Task, sess.Mode)
	if err != nil {
		return nil, err
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	inputs, version, err := a.prepareInputs(ctx, sess, kind, req.Inputs)
	if err != nil {
		return nil, err
	}

	a.touchRuntime(ctx, sessionID, func(rs *storage.RuntimeState) { rs.ActiveKind = kind })
	result := a.Coordinator.Submit(ctx, model.ExecutionRequest{
		SessionID: sessionID,
		Kind:      kind,
		RequestID: requestID,
		Inputs:    inputs,
	})
	a.touchRuntime(ctx, sessionID, func(rs *storage.RuntimeState) { rs.ActiveKind = "" })

	if kind == model.KindChat && result.Success && !result.Metadata.Fallback {
		a.saveChat(ctx, sessionID, inputs, result)
	}
	a.saveAnalysis(ctx, sessionID, version, result)
	return result, nil
}

// Chain resolves every task and runs them in order, stopping at the first
// failure.
func (a *App) Chain(ctx context.Context, sessionID, requestID string, reqs []TaskRequest) (*coordinator.ChainResult, error) {
	sess, steps, err := a.resolveAll(ctx, sessionID, reqs)
	if err != nil {
		return nil, err
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	// Each step reads the document under its own field, so kinds with
	// different input names can follow one another.
	versions := make([]int, len(steps))
	for i := range steps {
		inputs, version, err := a.prepareInputs(ctx, sess, steps[i].Kind, steps[i].Inputs)
		if err != nil {
			return nil, err
		}
		steps[i].Inputs = inputs
		versions[i] = version
	}
	chain := a.Coordinator.ExecuteChain(ctx, steps, sessionID, requestID)
	for i, entry := range chain.Entries {
		a.saveAnalysis(ctx, sessionID, versions[i], entry.Result)
	}
	return chain, nil
}

// Parallel resolves every task and runs them concurrently.
func (a *App) Parallel(ctx context.Context, sessionID, requestID string, reqs []TaskRequest) (map[model.Kind]*model.ExecutionResult, error) {
	sess, tasks, err := a.resolveAll(ctx, sessionID, reqs)
	if err != nil {
		return nil, err
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	versions := make(map[model.Kind]int, len(tasks))
	for i := range tasks {
		inputs, version, err := a.prepareInputs(ctx, sess, tasks[i].Kind, tasks[i].Inputs)
		if err != nil {
			return nil, err
		}
		tasks[i].Inputs = inputs
		if _, seen := versions[tasks[i].Kind]; !seen {
			versions[tasks[i].Kind] = version
		}
	}
	results := a.Coordinator.ExecuteParallel(ctx, tasks, sessionID, requestID)
	for kind, result := range results {
		a.saveAnalysis(ctx, sessionID, versions[kind], result)
	}
	return results, nil
}

func (a *App) resolveAll(ctx context.Context, sessionID string, reqs []TaskRequest) (*model.Session, []model.Step, error) {
	if len(reqs) == 0 {
		return nil, nil, model.NewValidationError("tasks", "at least one task is required")
	}
	sess, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	steps := make([]model.Step, 0, len(reqs))
	for _, req := range reqs {
		kind, err := a.Router.Resolve(req.Task, sess.Mode)
		if err != nil {
			return nil, nil, err
		}
		steps = append(steps, model.Step{Kind: kind, Inputs: req.Inputs})
	}
	return sess, steps, nil
}

// prepareInputs copies given and fills the kind's document field from the
// latest state version. The returned version is that of the injected
// document, or 0 when the caller supplied the document.
func (a *App) prepareInputs(ctx context.Context, sess *model.Session, kind model.Kind, given map[string]any) (map[string]any, int, error) {
	inputs := make(map[string]any, len(given)+1)
	for k, v := range given {
		inputs[k] = v
	}

	if kind == model.KindChat {
		message, _ := inputs["message"].(string)
		document, _ := inputs["document"].(string)
		if document == "" {
			document, _ = a.latestDocument(ctx, sess.ID)
		}
		chat, err := a.Conversation.ChatInputs(ctx, sess.ID, message, document)
		if err != nil {
			a.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Failed to load conversation, continuing without history")
			chat = map[string]any{"message": message}
			if document != "" {
				chat["document"] = document
			}
		}
		for k, v := range inputs {
			if _, ok := chat[k]; !ok {
				chat[k] = v
			}
		}
		return chat, 0, nil
	}

	field := documentField[kind]
	if _, ok := inputs[field]; ok {
		return inputs, 0, nil
	}
	document, version := a.latestDocument(ctx, sess.ID)
	if document == "" {
		return inputs, 0, nil
	}
	if err := a.Router.CheckContent(sess.Mode, document); err != nil {
		return nil, 0, err
	}
	if kind == model.KindMathValidation {
		inputs[field] = splitSteps(document)
	} else {
		inputs[field] = document
	}
	return inputs, version, nil
}

// latestDocument returns the newest synced content and its version, or ""
// when the session has none.
func (a *App) latestDocument(ctx context.Context, sessionID string) (string, int) {
	c, err := a.Store.LatestContent(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			a.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to read latest content")
		}
		return "", 0
	}
	return c.Content, c.Version
}

// splitSteps turns a worked solution into one step per non-blank line.
func splitSteps(document string) []any {
	var steps []any
	for _, line := range strings.Split(document, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			steps = append(steps, line)
		}
	}
	return steps
}

func (a *App) saveChat(ctx context.Context, sessionID string, inputs map[string]any, result *model.ExecutionResult) {
	message, _ := inputs["message"].(string)
	answer, _ := result.Data["content"].(string)
	if message == "" || answer == "" {
		return
	}
	if err := a.Conversation.SaveExchange(ctx, sessionID, message, answer); err != nil {
		a.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to save chat exchange")
	}
}

// saveAnalysis stores a complete result against the document version it was
// computed from. Fallback and low-confidence payloads are not stored.
func (a *App) saveAnalysis(ctx context.Context, sessionID string, version int, result *model.ExecutionResult) {
	if version == 0 || !result.Success || result.Metadata.Fallback || result.Metadata.LowConfidence {
		return
	}
	if !analysis.Persistable(result.Kind) {
		return
	}
	rec, err := analysis.Record(result.Kind, result.Data)
	if err == nil {
		rec.SessionID, rec.Version = sessionID, version
		err = a.Store.SaveAnalysis(ctx, rec)
	}
	if err != nil {
		a.log.Warn().Err(err).
			Str("session_id", sessionID).
			Int("version", version).
			Str("kind", string(result.Kind)).
			Msg("Failed to save analysis result")
	}
}

package coordinator

import (
	"context"
	"fmt"
	"runtime/debug"

	"learnassist/src/model"

	"golang.org/x/sync/errgroup"
)

// ChainEntry is the result of one executed chain step.
type ChainEntry struct {
	Kind   model.Kind             `json:"kind"`
	Result *model.ExecutionResult `json:"result"`
}

// ChainResult holds the executed steps in order. Steps after the first
// failure are absent.
type ChainResult struct {
	Entries   []ChainEntry `json:"entries"`
	Completed bool         `json:"completed"`
}

// Get returns the result of the first executed step of kind.
func (r *ChainResult) Get(kind model.Kind) (*model.ExecutionResult, bool) {
	for _, e := range r.Entries {
		if e.Kind == kind {
			return e.Result, true
		}
	}
	return nil, false
}

// subRequestID derives the request id of one step of a batch.
func subRequestID(requestID string, kind model.Kind) string {
	return requestID + "_" + string(kind)
}

// ExecuteChain runs steps in order. The data of each successful step is
// merged into the inputs of the next; a step's own inputs take precedence.
func (c *Coordinator) ExecuteChain(ctx context.Context, steps []model.Step, sessionID, requestID string) *ChainResult {
	out := &ChainResult{Entries: make([]ChainEntry, 0, len(steps))}
	carried := map[string]any{}

	for _, step := range steps {
		inputs := merge(carried, step.Inputs)
		result := c.Execute(ctx, step.Kind, sessionID, subRequestID(requestID, step.Kind), inputs)
		out.Entries = append(out.Entries, ChainEntry{Kind: step.Kind, Result: result})

		if !result.Success {
			c.log.Warn().
				Str("session_id", sessionID).
				Str("request_id", requestID).
				Str("kind", string(step.Kind)).
				Int("executed", len(out.Entries)).
				Int("steps", len(steps)).
				Msg("Chain stopped at failing step")
			return out
		}
		carried = merge(inputs, result.Data)
	}

	out.Completed = true
	return out
}

// ExecuteParallel runs tasks concurrently and returns one result per kind.
// A failing or panicking task never cancels its siblings. When a kind is
// listed more than once only its first task runs.
func (c *Coordinator) ExecuteParallel(ctx context.Context, tasks []model.Task, sessionID, requestID string) map[model.Kind]*model.ExecutionResult {
	unique := make([]model.Task, 0, len(tasks))
	seen := make(map[model.Kind]bool, len(tasks))
	for _, task := range tasks {
		if seen[task.Kind] {
			c.log.Warn().Str("kind", string(task.Kind)).Str("request_id", requestID).Msg("Duplicate kind in parallel batch ignored")
			continue
		}
		seen[task.Kind] = true
		unique = append(unique, task)
	}

	results := make([]*model.ExecutionResult, len(unique))
	var g errgroup.Group
	for i, task := range unique {
		g.Go(func() error {
			subID := subRequestID(requestID, task.Kind)
			defer func() {
				if r := recover(); r != nil {
					c.log.Error().
						Str("kind", string(task.Kind)).
						Str("request_id", subID).
						Bytes("stack", debug.Stack()).
						Msgf("Analysis panicked: %v", r)
					failed := model.NewFailedResult(task.Kind, subID, fmt.Errorf("analysis panicked: %v", r))
					c.record(sessionID, failed)
					results[i] = failed
				}
			}()
			results[i] = c.Execute(ctx, task.Kind, sessionID, subID, task.Inputs)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[model.Kind]*model.ExecutionResult, len(unique))
	succeeded := 0
	for i, task := range unique {
		out[task.Kind] = results[i]
		if results[i].Success {
			succeeded++
		}
	}

	c.log.Info().
		Str("session_id", sessionID).
		Str("request_id", requestID).
		Int("succeeded", succeeded).
		Int("tasks", len(unique)).
		Msg("Parallel batch completed")
	return out
}

func merge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

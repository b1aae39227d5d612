package analysis

import (
	"context"
	"fmt"

	"learnassist/src/model"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// jsonCapability is a capability whose provider answer is a JSON object
// decoded into Out. finish, when set, turns a schema-valid answer into the
// result payload; otherwise the answer is returned as is.
type jsonCapability[In any, Out any] struct {
	kind     model.Kind
	params   model.ModelParams
	template prompt.ChatTemplate
	vars     func(in *In) map[string]any
	finish   func(out *Out) (map[string]any, error)
	fallback func() map[string]any
}

func newJSONCapability[In any, Out any](kind model.Kind, params model.ModelParams, system, user string, vars func(*In) map[string]any) *jsonCapability[In, Out] {
	return &jsonCapability[In, Out]{
		kind:   kind,
		params: params,
		template: prompt.FromMessages(schema.FString,
			schema.SystemMessage(system),
			schema.UserMessage(user),
		),
		vars: vars,
	}
}

func (c *jsonCapability[In, Out]) Kind() model.Kind          { return c.kind }
func (c *jsonCapability[In, Out]) Params() model.ModelParams { return c.params }

func (c *jsonCapability[In, Out]) Cacheable() bool { return true }

func (c *jsonCapability[In, Out]) Fallback() map[string]any {
	return c.fallback()
}

func (c *jsonCapability[In, Out]) Validate(inputs map[string]any) error {
	var in In
	return bindInputs(inputs, &in)
}

func (c *jsonCapability[In, Out]) BuildRequest(ctx context.Context, inputs map[string]any) ([]*schema.Message, error) {
	var in In
	if err := bindInputs(inputs, &in); err != nil {
		return nil, err
	}
	messages, err := c.template.Format(ctx, c.vars(&in))
	if err != nil {
		return nil, fmt.Errorf("failed to render %s prompt: %w", c.kind, err)
	}
	return messages, nil
}

func (c *jsonCapability[In, Out]) Decode(raw string) (map[string]any, error) {
	body, ok := extractJSON(raw)
	if !ok {
		return nil, &LowConfidenceError{Kind: c.kind, Reason: "answer contains no JSON object", Partial: c.fallback()}
	}

	var out Out
	if err := sonic.UnmarshalString(body, &out); err != nil {
		return nil, &LowConfidenceError{Kind: c.kind, Reason: "answer is not valid JSON: " + err.Error(), Partial: c.fallback()}
	}

	if err := validate.Struct(&out); err != nil {
		partial, convErr := toMap(&out)
		if convErr != nil {
			partial = c.fallback()
		}
		return nil, &LowConfidenceError{
			Kind:    c.kind,
			Reason:  "answer does not match the expected schema",
			Missing: missingFields(err),
			Partial: mergeInto(c.fallback(), partial),
		}
	}

	if c.finish != nil {
		return c.finish(&out)
	}
	return toMap(&out)
}

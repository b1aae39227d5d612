// Package analysis holds the closed set of analysis capabilities. Each
// capability validates its inputs, renders the provider prompt and decodes
// the provider answer into a structured payload.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"learnassist/src/model"

	"github.com/cloudwego/eino/schema"
)

// Capability is implemented once per model.Kind.
type Capability interface {
	Kind() model.Kind
	Params() model.ModelParams
	Validate(inputs map[string]any) error
	BuildRequest(ctx context.Context, inputs map[string]any) ([]*schema.Message, error)
	// Decode returns the structured payload, or a *LowConfidenceError when
	// the answer does not satisfy the kind's schema.
	Decode(raw string) (map[string]any, error)
	// Fallback is the structurally valid payload used when the provider is
	// unavailable.
	Fallback() map[string]any
	// Cacheable reports whether results may be shared between callers with
	// identical inputs.
	Cacheable() bool
}

// LowConfidenceError marks a provider answer that could not be decoded into
// a complete result. Partial holds whatever could be recovered, falling back
// to the kind's default payload.
type LowConfidenceError struct {
	Kind    model.Kind
	Reason  string
	Missing []string
	Partial map[string]any
}

func (e *LowConfidenceError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("low confidence %s result: %s (%s)", e.Kind, e.Reason, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("low confidence %s result: %s", e.Kind, e.Reason)
}

// Registry is the static kind to capability table.
type Registry struct {
	capabilities map[model.Kind]Capability
}

// NewRegistry registers every known kind.
func NewRegistry() *Registry {
	r := &Registry{capabilities: make(map[model.Kind]Capability, len(model.AllKinds))}
	for _, c := range []Capability{
		newGrammarCheck(),
		newPolish(),
		newStructureAnalysis(),
		newHealthScore(),
		newMathValidation(),
		newLogicTree(),
		newDebug(),
		newChat(),
	} {
		r.capabilities[c.Kind()] = c
	}
	return r
}

func (r *Registry) Get(kind model.Kind) (Capability, error) {
	c, ok := r.capabilities[kind]
	if !ok {
		return nil, model.NewValidationError("kind", fmt.Sprintf("unknown analysis kind %q", kind))
	}
	return c, nil
}

// Kinds returns the registered kinds in registration order.
func (r *Registry) Kinds() []model.Kind {
	kinds := make([]model.Kind, 0, len(r.capabilities))
	for _, k := range model.AllKinds {
		if _, ok := r.capabilities[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

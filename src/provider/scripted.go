package provider

import (
	"context"
	"sync"

	"learnassist/src/model"

	"github.com/cloudwego/eino/schema"
)

// HandlerFunc answers one scripted invocation.
type HandlerFunc func(ctx context.Context, messages []*schema.Message, params model.ModelParams) (*Response, error)

// Scripted is an in-process Provider driven by a HandlerFunc. It records
// every call and is safe for concurrent use.
type Scripted struct {
	mu      sync.Mutex
	handler HandlerFunc
	calls   []ScriptedCall
}

type ScriptedCall struct {
	Messages []*schema.Message
	Params   model.ModelParams
}

func NewScripted(handler HandlerFunc) *Scripted {
	return &Scripted{handler: handler}
}

// Reply returns a Scripted provider that always answers content.
func Reply(content string) *Scripted {
	return NewScripted(func(context.Context, []*schema.Message, model.ModelParams) (*Response, error) {
		return &Response{
			Content: content,
			Model:   "scripted",
			Usage:   &model.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		}, nil
	})
}

// Fail returns a Scripted provider that always fails with err.
func Fail(err error) *Scripted {
	return NewScripted(func(context.Context, []*schema.Message, model.ModelParams) (*Response, error) {
		return nil, err
	})
}

func (s *Scripted) Invoke(ctx context.Context, messages []*schema.Message, params model.ModelParams) (*Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, ScriptedCall{Messages: messages, Params: params})
	handler := s.handler
	s.mu.Unlock()

	return handler(ctx, messages, params)
}

func (s *Scripted) Calls() []ScriptedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScriptedCall(nil), s.calls...)
}

func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

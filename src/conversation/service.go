// Package conversation keeps per-session chat history for the chat analysis.
package conversation

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"
)

type Service struct {
	repo     Repository
	strategy ContextStrategy
}

func NewService(repo Repository, strategy ContextStrategy) *Service {
	return &Service{repo: repo, strategy: strategy}
}

// ChatInputs builds the inputs of a chat analysis: the new message, the
// current document and the recent history selected by the strategy.
func (s *Service) ChatInputs(ctx context.Context, sessionID, message, document string) (map[string]any, error) {
	messages, err := s.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	turns := s.strategy.BuildContext(messages)
	history := make([]any, 0, len(turns))
	for _, t := range turns {
		history = append(history, map[string]any{"role": t.Role, "content": t.Content})
	}

	inputs := map[string]any{
		"message": message,
		"history": history,
	}
	if strings.TrimSpace(document) != "" {
		inputs["document"] = document
	}
	return inputs, nil
}

// SaveExchange appends a user message and the assistant's answer.
func (s *Service) SaveExchange(ctx context.Context, sessionID, message, answer string) error {
	return s.repo.AddMessages(ctx, sessionID,
		schema.UserMessage(message),
		schema.AssistantMessage(answer, nil),
	)
}

// GetHistory returns the stored conversation of a session.
func (s *Service) GetHistory(ctx context.Context, sessionID string) ([]*schema.Message, error) {
	return s.repo.Load(ctx, sessionID)
}

func (s *Service) Clear(ctx context.Context, sessionID string) error {
	return s.repo.Clear(ctx, sessionID)
}

package analysis

import (
	"context"
	"fmt"
	"strings"

	"learnassist/src/model"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// ChatTurn is one earlier message of the conversation.
type ChatTurn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

type chatInput struct {
	Message  string     `json:"message" validate:"required,nonblank,max=5000"`
	Document string     `json:"document" validate:"max=50000"`
	History  []ChatTurn `json:"history" validate:"omitempty,max=50,dive"`
}

// chatCapability answers in free text, so its decode never fails on shape.
type chatCapability struct {
	template prompt.ChatTemplate
}

func newChat() *chatCapability {
	return &chatCapability{
		template: prompt.FromMessages(schema.FString,
			schema.SystemMessage(chatSystemPrompt),
			schema.MessagesPlaceholder("history", true),
			schema.UserMessage(chatUserPrompt),
		),
	}
}

func (c *chatCapability) Kind() model.Kind { return model.KindChat }

func (c *chatCapability) Params() model.ModelParams {
	return model.ModelParams{Temperature: 0.8, MaxTokens: 2000}
}

func (c *chatCapability) Validate(inputs map[string]any) error {
	var in chatInput
	return bindInputs(inputs, &in)
}

func (c *chatCapability) BuildRequest(ctx context.Context, inputs map[string]any) ([]*schema.Message, error) {
	var in chatInput
	if err := bindInputs(inputs, &in); err != nil {
		return nil, err
	}

	history := make([]*schema.Message, 0, len(in.History))
	for _, turn := range in.History {
		if turn.Role == string(schema.Assistant) {
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		} else {
			history = append(history, schema.UserMessage(turn.Content))
		}
	}

	document := in.Document
	if document == "" {
		document = "(empty)"
	}

	messages, err := c.template.Format(ctx, map[string]any{
		"history":  history,
		"document": document,
		"message":  in.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render chat prompt: %w", err)
	}
	return messages, nil
}

func (c *chatCapability) Decode(raw string) (map[string]any, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return nil, &LowConfidenceError{Kind: model.KindChat, Reason: "empty answer", Partial: c.Fallback()}
	}
	return map[string]any{
		"content":      content,
		"message_type": "answer",
	}, nil
}

// Cacheable is false: a reply belongs to one conversation.
func (c *chatCapability) Cacheable() bool { return false }

func (c *chatCapability) Fallback() map[string]any {
	return map[string]any{
		"content":      "The assistant is temporarily unavailable. Please try again in a moment.",
		"message_type": "error",
	}
}

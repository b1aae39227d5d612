package conversation

import (
	"github.com/cloudwego/eino/schema"
)

// Turn is one history entry as passed to the chat analysis.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextStrategy picks which stored messages the model sees.
type ContextStrategy interface {
	BuildContext(messages []*schema.Message) []Turn
}

// WindowStrategy keeps the last maxTurns user and assistant messages.
type WindowStrategy struct {
	maxTurns int
}

func NewWindowStrategy(maxTurns int) *WindowStrategy {
	return &WindowStrategy{maxTurns: maxTurns}
}

func (s *WindowStrategy) BuildContext(messages []*schema.Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case schema.User:
			turns = append(turns, Turn{Role: "user", Content: msg.Content})
		case schema.Assistant:
			turns = append(turns, Turn{Role: "assistant", Content: msg.Content})
		}
	}
	return trimTail(turns, s.maxTurns)
}

// Helper function
func trimTail(turns []Turn, maxTurns int) []Turn {
	if maxTurns <= 0 || len(turns) <= maxTurns {
		return turns
	}
	return turns[len(turns)-maxTurns:]
}

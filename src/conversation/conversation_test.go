package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, maxMessages int) (*RedisRepository, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRepository(client, 2*time.Hour, maxMessages), mr
}

func TestRedisRepository_TrimsAndExpires(t *testing.T) {
	repo, mr := newTestRepo(t, 4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AddMessages(ctx, "s1",
			schema.UserMessage(fmt.Sprintf("q%d", i)),
			schema.AssistantMessage(fmt.Sprintf("a%d", i), nil)))
	}

	messages, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, "q1", messages[0].Content)
	assert.Equal(t, schema.User, messages[0].Role)
	assert.Equal(t, "a2", messages[3].Content)
	assert.Equal(t, schema.Assistant, messages[3].Role)
	assert.Equal(t, 2*time.Hour, mr.TTL("conversation:s1"))

	mr.FastForward(3 * time.Hour)
	messages, err = repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRedisRepository_Clear(t *testing.T) {
	repo, _ := newTestRepo(t, 10)
	ctx := context.Background()

	require.NoError(t, repo.AddMessages(ctx, "s1", schema.UserMessage("hi")))
	require.NoError(t, repo.AddMessages(ctx, "s1"))
	require.NoError(t, repo.Clear(ctx, "s1"))

	messages, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestWindowStrategy(t *testing.T) {
	messages := []*schema.Message{
		schema.SystemMessage("ignored"),
		schema.UserMessage("q1"),
		schema.AssistantMessage("a1", nil),
		schema.UserMessage("q2"),
	}

	turns := NewWindowStrategy(2).BuildContext(messages)
	assert.Equal(t, []Turn{{Role: "assistant", Content: "a1"}, {Role: "user", Content: "q2"}}, turns)
	assert.Len(t, NewWindowStrategy(0).BuildContext(messages), 3)
}

func TestService_ChatInputs(t *testing.T) {
	repo, _ := newTestRepo(t, 20)
	svc := NewService(repo, NewWindowStrategy(20))
	ctx := context.Background()

	inputs, err := svc.ChatInputs(ctx, "s1", "What is a thesis?", "")
	require.NoError(t, err)
	assert.Equal(t, "What is a thesis?", inputs["message"])
	assert.Empty(t, inputs["history"])
	assert.NotContains(t, inputs, "document")

	require.NoError(t, svc.SaveExchange(ctx, "s1", "What is a thesis?", "The central claim."))

	inputs, err = svc.ChatInputs(ctx, "s1", "Give an example", "My essay")
	require.NoError(t, err)
	assert.Equal(t, "My essay", inputs["document"])
	assert.Equal(t, []any{
		map[string]any{"role": "user", "content": "What is a thesis?"},
		map[string]any{"role": "assistant", "content": "The central claim."},
	}, inputs["history"])

	history, err := svc.GetHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"learnassist/src/model"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	reply *schema.Message
	err   error
	opts  *einomodel.Options
}

func (f *fakeChat) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.opts = einomodel.GetCommonOptions(&einomodel.Options{}, opts...)
	return f.reply, f.err
}

func (f *fakeChat) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestChatProvider_InvokeMapsUsageAndOptions(t *testing.T) {
	chat := &fakeChat{reply: &schema.Message{
		Role:    schema.Assistant,
		Content: `{"errors":[]}`,
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
		},
	}}
	p := NewChatProvider(chat, "qwen-plus")

	resp, err := p.Invoke(context.Background(), []*schema.Message{schema.UserMessage("hi")}, model.ModelParams{Temperature: 0.3, MaxTokens: 2000})
	require.NoError(t, err)

	assert.Equal(t, `{"errors":[]}`, resp.Content)
	assert.Equal(t, "qwen-plus", resp.Model)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 20, resp.Usage.TotalTokens)

	require.NotNil(t, chat.opts.Temperature)
	assert.InDelta(t, 0.3, *chat.opts.Temperature, 1e-6)
	require.NotNil(t, chat.opts.MaxTokens)
	assert.Equal(t, 2000, *chat.opts.MaxTokens)
	require.NotNil(t, chat.opts.Model)
	assert.Equal(t, "qwen-plus", *chat.opts.Model)
}

func TestChatProvider_EmptyReplyIsRetryable(t *testing.T) {
	p := NewChatProvider(&fakeChat{reply: &schema.Message{Role: schema.Assistant, Content: "  "}}, "m")

	_, err := p.Invoke(context.Background(), nil, model.ModelParams{})

	var providerErr *model.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.True(t, providerErr.Retryable())
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		err  error
		kind model.ProviderErrorKind
	}{
		{errors.New("error, status code: 429, message: Rate limit reached"), model.ProviderRateLimit},
		{errors.New("error, status code: 401, message: Invalid API key"), model.ProviderAuth},
		{errors.New("This model's maximum context length is 8192 tokens"), model.ProviderTokenLimit},
		{errors.New("error, status code: 400, message: bad json"), model.ProviderBadRequest},
		{errors.New("error, status code: 503, message: overloaded"), model.ProviderServiceUnavailable},
		{errors.New("dial tcp: connection refused"), model.ProviderConnection},
		{fmt.Errorf("post: %w", context.DeadlineExceeded), model.ProviderTimeout},
		{errors.New("something odd"), model.ProviderUnknown},
		{errors.New("budget of 4000 tokens spent, status code: 503"), model.ProviderServiceUnavailable},
		{errors.New("prompt of 5000 characters rejected"), model.ProviderUnknown},
		{errors.New("HTTP 504 Gateway Timeout"), model.ProviderTimeout},
		{errors.New("status: 404 model not found"), model.ProviderUnsupported},
		{errors.New("request timed out"), model.ProviderTimeout},
		{errors.New("read: unexpected EOF"), model.ProviderConnection},
		{errors.New("user geoffrey has no quota"), model.ProviderUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			var providerErr *model.ProviderError
			require.ErrorAs(t, Translate(tt.err), &providerErr)
			assert.Equal(t, tt.kind, providerErr.Kind)
		})
	}
}

func TestTranslate_KeepsCancellation(t *testing.T) {
	assert.ErrorIs(t, Translate(context.Canceled), context.Canceled)
}

func TestScripted_RecordsCalls(t *testing.T) {
	s := Reply("ok")
	_, err := s.Invoke(context.Background(), []*schema.Message{schema.UserMessage("a")}, model.ModelParams{MaxTokens: 5})
	require.NoError(t, err)

	calls := s.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 5, calls[0].Params.MaxTokens)
	assert.Equal(t, 1, s.CallCount())
}

func TestNewChatModel_Backends(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{"openai", "ollama", "deepseek", "ark"} {
		t.Run(backend, func(t *testing.T) {
			chat, err := NewChatModel(ctx, model.ProviderConfig{
				Backend: backend,
				APIKey:  "test-key",
				BaseURL: "http://127.0.0.1:1",
				Model:   "test-model",
			}, time.Second)
			require.NoError(t, err)
			assert.NotNil(t, chat)
		})
	}

	_, err := NewChatModel(ctx, model.ProviderConfig{Backend: "bedrock"}, time.Second)
	assert.Error(t, err)
}

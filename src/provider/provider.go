// Package provider adapts eino chat models to the single invocation the
// coordinator retries and classifies.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"learnassist/src/logger"
	"learnassist/src/model"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Response is the raw provider answer for one invocation.
type Response struct {
	Content string
	Usage   *model.Usage
	Model   string
}

// Provider performs one generation call. Failures are *model.ProviderError.
type Provider interface {
	Invoke(ctx context.Context, messages []*schema.Message, params model.ModelParams) (*Response, error)
}

// ChatProvider invokes an eino chat model.
type ChatProvider struct {
	chat         einomodel.BaseChatModel
	defaultModel string
}

func NewChatProvider(chat einomodel.BaseChatModel, defaultModel string) *ChatProvider {
	return &ChatProvider{chat: chat, defaultModel: defaultModel}
}

func (p *ChatProvider) Invoke(ctx context.Context, messages []*schema.Message, params model.ModelParams) (*Response, error) {
	modelName := params.Model
	if modelName == "" {
		modelName = p.defaultModel
	}

	opts := []einomodel.Option{
		einomodel.WithTemperature(params.Temperature),
	}
	if params.MaxTokens > 0 {
		opts = append(opts, einomodel.WithMaxTokens(params.MaxTokens))
	}
	if modelName != "" {
		opts = append(opts, einomodel.WithModel(modelName))
	}

	start := time.Now()
	msg, err := p.chat.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, Translate(err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return nil, &model.ProviderError{Kind: model.ProviderServiceUnavailable, Message: "empty response"}
	}

	resp := &Response{Content: msg.Content, Model: modelName}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		u := msg.ResponseMeta.Usage
		resp.Usage = &model.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}

	logger.Debug().
		Str("model", modelName).
		Dur("elapsed", time.Since(start)).
		Int("content_length", len(resp.Content)).
		Msg("Provider call completed")

	return resp, nil
}

// statusPattern finds an HTTP status reported in upstream error text, such
// as "status code: 429" or "HTTP 503". Bare numbers are never read as
// statuses.
var statusPattern = regexp.MustCompile(`\b(?:status(?:\s+code)?|http(?:/\d(?:\.\d)?)?)\s*[:=]?\s*([1-5]\d\d)\b`)

type textHint struct {
	pattern *regexp.Regexp
	status  int
	kind    model.ProviderErrorKind
}

func hint(expr string, status int, kind model.ProviderErrorKind) textHint {
	return textHint{pattern: regexp.MustCompile(`\b` + expr + `\b`), status: status, kind: kind}
}

// messageHints are checked before the reported status, so a 400 that names
// the context window is a token limit failure.
var messageHints = []textHint{
	hint(`rate[ _-]?limit(?:ed)?`, 429, model.ProviderRateLimit),
	hint(`too many requests`, 429, model.ProviderRateLimit),
	hint(`invalid api key`, 401, model.ProviderAuth),
	hint(`unauthorized`, 401, model.ProviderAuth),
	hint(`context length`, 400, model.ProviderTokenLimit),
	hint(`maximum context`, 400, model.ProviderTokenLimit),
	hint(`token limit`, 400, model.ProviderTokenLimit),
}

// transportHints are checked when no status was reported.
var transportHints = []textHint{
	hint(`time(?:d)?[ _-]?out`, 0, model.ProviderTimeout),
	hint(`connection refused`, 0, model.ProviderConnection),
	hint(`connection reset`, 0, model.ProviderConnection),
	hint(`no such host`, 0, model.ProviderConnection),
	hint(`(?:unexpected )?eof`, 0, model.ProviderConnection),
}

func statusKind(status int) model.ProviderErrorKind {
	switch {
	case status == 429:
		return model.ProviderRateLimit
	case status == 401 || status == 403:
		return model.ProviderAuth
	case status == 404:
		return model.ProviderUnsupported
	case status == 408 || status == 504:
		return model.ProviderTimeout
	case status == 413:
		return model.ProviderTokenLimit
	case status >= 500:
		return model.ProviderServiceUnavailable
	case status >= 400:
		return model.ProviderBadRequest
	}
	return model.ProviderUnknown
}

// Translate converts an error from an eino model into a *model.ProviderError.
func Translate(err error) error {
	var providerErr *model.ProviderError
	if errors.As(err, &providerErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &model.ProviderError{Kind: model.ProviderTimeout, Message: err.Error(), Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		kind := model.ProviderConnection
		if netErr.Timeout() {
			kind = model.ProviderTimeout
		}
		return &model.ProviderError{Kind: kind, Message: err.Error(), Err: err}
	}

	text := strings.ToLower(err.Error())
	for _, h := range messageHints {
		if h.pattern.MatchString(text) {
			return &model.ProviderError{Kind: h.kind, Status: h.status, Message: err.Error(), Err: err}
		}
	}
	if m := statusPattern.FindStringSubmatch(text); m != nil {
		status, _ := strconv.Atoi(m[1])
		if kind := statusKind(status); kind != model.ProviderUnknown {
			return &model.ProviderError{Kind: kind, Status: status, Message: err.Error(), Err: err}
		}
	}
	for _, h := range transportHints {
		if h.pattern.MatchString(text) {
			return &model.ProviderError{Kind: h.kind, Message: err.Error(), Err: err}
		}
	}

	return &model.ProviderError{Kind: model.ProviderUnknown, Message: err.Error(), Err: fmt.Errorf("unclassified provider failure: %w", err)}
}

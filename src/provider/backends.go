package provider

import (
	"context"
	"fmt"
	"time"

	"learnassist/src/model"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/ollama/ollama/api"
)

// Defaults applied at client construction; per-kind params override them on
// every call.
const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
)

// New builds the Provider selected by cfg.Backend.
func New(ctx context.Context, cfg model.ProviderConfig, timeout time.Duration) (Provider, error) {
	chat, err := NewChatModel(ctx, cfg, timeout)
	if err != nil {
		return nil, err
	}
	return NewChatProvider(chat, cfg.Model), nil
}

// NewChatModel creates the eino chat model for cfg.Backend.
func NewChatModel(ctx context.Context, cfg model.ProviderConfig, timeout time.Duration) (einomodel.BaseChatModel, error) {
	switch cfg.Backend {
	case "openai", "":
		maxTokens := defaultMaxTokens
		temperature := float32(defaultTemperature)
		chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Timeout:     timeout,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating openai chat model: %w", err)
		}
		return chat, nil

	case "ollama":
		chat, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
			Options: &api.Options{
				Temperature: defaultTemperature,
				NumPredict:  defaultMaxTokens,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("error creating ollama chat model: %w", err)
		}
		return chat, nil

	case "deepseek":
		chat, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Timeout:     timeout,
			MaxTokens:   defaultMaxTokens,
			Temperature: defaultTemperature,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating deepseek chat model: %w", err)
		}
		return chat, nil

	case "ark":
		maxTokens := defaultMaxTokens
		temperature := float32(defaultTemperature)
		chat, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Timeout:     &timeout,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating ark chat model: %w", err)
		}
		return chat, nil
	}

	return nil, fmt.Errorf("unknown provider backend %q", cfg.Backend)
}

package src

import (
	"fmt"

	"learnassist/src/model"
	"learnassist/src/resilience"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LogConfig          model.LogConfig          `envconfig:""`
	RedisConfig        model.RedisConfig        `envconfig:""`
	DatabaseConfig     model.DatabaseConfig     `envconfig:""`
	ProviderConfig     model.ProviderConfig     `envconfig:""`
	ExecutionConfig    model.ExecutionConfig    `envconfig:""`
	StateConfig        model.StateConfig        `envconfig:""`
	RouterConfig       model.RouterConfig       `envconfig:""`
	ConversationConfig model.ConversationConfig `envconfig:""`
}

func LoadConfig() (*Config, error) {
	var config Config
	err := envconfig.Process("", &config)
	if err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %v", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations under which a lock could expire while its
// holder is still legitimately retrying.
func (c *Config) Validate() error {
	exec := c.ExecutionConfig
	if exec.Timeout <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT must be positive, got %s", exec.Timeout)
	}
	if exec.MaxRetries < 0 {
		return fmt.Errorf("AGENT_MAX_RETRIES must not be negative, got %d", exec.MaxRetries)
	}
	if exec.RetryBase <= 0 {
		return fmt.Errorf("AGENT_RETRY_BASE must be positive, got %s", exec.RetryBase)
	}

	budget := resilience.Budget(exec)
	if exec.LockTTL <= budget {
		return fmt.Errorf("AGENT_LOCK_TTL (%s) must exceed the worst-case execution time %s (timeout %s x %d attempts plus backoff)",
			exec.LockTTL, budget, exec.Timeout, exec.MaxRetries+1)
	}

	switch c.ProviderConfig.Backend {
	case "openai", "deepseek", "ark":
		if c.ProviderConfig.APIKey == "" {
			return fmt.Errorf("PROVIDER_API_KEY is required for the %s backend", c.ProviderConfig.Backend)
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown PROVIDER_BACKEND %q", c.ProviderConfig.Backend)
	}

	if c.StateConfig.HistoryLimit <= 0 {
		return fmt.Errorf("STATE_HISTORY_LIMIT must be positive, got %d", c.StateConfig.HistoryLimit)
	}

	return nil
}

package model

import "time"

// ================ Config ================

// LogConfig holds configuration for the global logger
type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"info"`
	Format     string `envconfig:"LOG_FORMAT" default:"json"`
	Output     string `envconfig:"LOG_OUTPUT" default:"stdout"`
	FilePath   string `envconfig:"LOG_FILE_PATH" default:"logs/learnassist.log"`
	TimeFormat string `envconfig:"LOG_TIME_FORMAT" default:"rfc3339"`
}

type RedisConfig struct {
	URL string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
}

type DatabaseConfig struct {
	Path         string `envconfig:"DATABASE_PATH" default:"data/learnassist.db"`
	MaxOpenConns int    `envconfig:"DATABASE_MAX_OPEN_CONNS" default:"4"`
}

// ProviderConfig selects and configures the reasoning provider.
// Backend is one of openai, ollama, deepseek or ark.
type ProviderConfig struct {
	Backend string `envconfig:"PROVIDER_BACKEND" default:"openai"`
	APIKey  string `envconfig:"PROVIDER_API_KEY"`
	BaseURL string `envconfig:"PROVIDER_BASE_URL" default:"https://dashscope.aliyuncs.com/compatible-mode/v1"`
	Model   string `envconfig:"PROVIDER_MODEL" default:"qwen-plus"`
}

// ExecutionConfig bounds a single analysis invocation.
type ExecutionConfig struct {
	Timeout       time.Duration `envconfig:"AGENT_TIMEOUT" default:"30s"`
	MaxRetries    int           `envconfig:"AGENT_MAX_RETRIES" default:"3"`
	RetryBase     time.Duration `envconfig:"AGENT_RETRY_BASE" default:"1s"`
	RetryMaxDelay time.Duration `envconfig:"AGENT_RETRY_MAX_DELAY" default:"30s"`
	LockTTL       time.Duration `envconfig:"AGENT_LOCK_TTL" default:"150s"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"1h"`
}

type StateConfig struct {
	ContentCacheTTL time.Duration `envconfig:"STATE_CONTENT_CACHE_TTL" default:"1h"`
	HistoryLimit    int           `envconfig:"STATE_HISTORY_LIMIT" default:"50"`
}

type RouterConfig struct {
	ModesFile string `envconfig:"ROUTER_MODES_FILE" default:"configs/modes.yaml"`
}

type ConversationConfig struct {
	TTL      time.Duration `envconfig:"CONVERSATION_TTL" default:"2h"`
	MaxTurns int           `envconfig:"CONVERSATION_MAX_TURNS" default:"20"`
}

package model

import "time"

// ----------------------------------------------------
// ================ Request ================

// ExecutionRequest is a single analysis invocation. It is not modified after
// it has been issued.
type ExecutionRequest struct {
	SessionID string         `json:"session_id"`
	Kind      Kind           `json:"kind"`
	RequestID string         `json:"request_id"`
	Inputs    map[string]any `json:"inputs"`
}

// Step is one element of a sequential chain.
type Step struct {
	Kind   Kind           `json:"kind"`
	Inputs map[string]any `json:"inputs"`
}

// Task is one element of a parallel fan-out.
type Task = Step

// ModelParams are the per-kind generation settings handed to the provider.
type ModelParams struct {
	Model       string  `json:"model,omitempty"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// ----------------------------------------------------
// ================ Result ================

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResultError describes why a result is not successful.
type ResultError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ResultMetadata struct {
	RequestID     string        `json:"request_id"`
	FromCache     bool          `json:"from_cache"`
	Fallback      bool          `json:"fallback"`
	Busy          bool          `json:"busy"`
	LowConfidence bool          `json:"low_confidence"`
	Attempts      int           `json:"attempts"`
	Elapsed       time.Duration `json:"elapsed"`
	Model         string        `json:"model,omitempty"`
	Usage         *Usage        `json:"usage,omitempty"`
}

// ExecutionResult is returned by every coordinator call. Data is never nil,
// so consumers can read it without checking Success first.
type ExecutionResult struct {
	Kind     Kind           `json:"kind"`
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data"`
	Error    *ResultError   `json:"error,omitempty"`
	Metadata ResultMetadata `json:"metadata"`
}

// NewFailedResult builds a failed result from err, classifying it with
// ErrorInfo.
func NewFailedResult(kind Kind, requestID string, err error) *ExecutionResult {
	errType, code := ErrorInfo(err)
	return &ExecutionResult{
		Kind:    kind,
		Success: false,
		Data:    map[string]any{},
		Error: &ResultError{
			Type:    errType,
			Code:    code,
			Message: err.Error(),
		},
		Metadata: ResultMetadata{RequestID: requestID},
	}
}

// CacheEntry is a stored analysis payload.
type CacheEntry struct {
	Key       string         `json:"key"`
	Payload   map[string]any `json:"payload"`
	HitCount  int64          `json:"hit_count"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

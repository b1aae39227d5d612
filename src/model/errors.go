package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error types reported in ResultError.Type and metric labels.
const (
	ErrorTypeBusy              = "Busy"
	ErrorTypeValidation        = "ValidationError"
	ErrorTypeRetryableProvider = "RetryableProviderError"
	ErrorTypeTerminalProvider  = "TerminalProviderError"
	ErrorTypeVersionConflict   = "VersionConflict"
	ErrorTypeNotFound          = "NotFound"
	ErrorTypeInvalidMode       = "InvalidMode"
	ErrorTypeSessionDeleted    = "SessionDeleted"
	ErrorTypeInternal          = "InternalError"
)

var (
	ErrBusy           = errors.New("analysis already running for this session")
	ErrNotFound       = errors.New("not found")
	ErrSessionDeleted = errors.New("session has been deleted")
)

// ValidationError marks inputs that can never succeed as given.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// VersionConflictError is returned when a writer's view of the document is
// older than the latest stored version.
type VersionConflictError struct {
	SessionID string
	Expected  int
	Actual    int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on session %s: expected %d, actual %d", e.SessionID, e.Expected, e.Actual)
}

// InvalidModeError is returned by the router when a kind is not allowed in
// the session's mode, and when a mode switch names an unknown mode. In the
// latter case Kind is empty and AllowedModes lists the known modes.
type InvalidModeError struct {
	Mode         Mode
	Kind         Kind
	Allowed      []Kind
	AllowedModes []Mode
}

func (e *InvalidModeError) Error() string {
	if e.Kind == "" {
		modes := make([]string, len(e.AllowedModes))
		for i, m := range e.AllowedModes {
			modes[i] = string(m)
		}
		return fmt.Sprintf("unknown mode %q (allowed: %s)", e.Mode, strings.Join(modes, ", "))
	}
	names := make([]string, len(e.Allowed))
	for i, k := range e.Allowed {
		names[i] = string(k)
	}
	return fmt.Sprintf("%s is not available in %s mode (allowed: %s)", e.Kind, e.Mode, strings.Join(names, ", "))
}

// ----------------------------------------------------
// ================ Provider ================

// ProviderErrorKind is the failure category of an upstream call.
type ProviderErrorKind string

const (
	ProviderTimeout            ProviderErrorKind = "timeout"
	ProviderConnection         ProviderErrorKind = "connection"
	ProviderServiceUnavailable ProviderErrorKind = "service_unavailable"
	ProviderAuth               ProviderErrorKind = "auth"
	ProviderBadRequest         ProviderErrorKind = "bad_request"
	ProviderRateLimit          ProviderErrorKind = "rate_limit"
	ProviderTokenLimit         ProviderErrorKind = "token_limit"
	ProviderUnsupported        ProviderErrorKind = "unsupported"
	ProviderUnknown            ProviderErrorKind = "unknown"
)

// ProviderError wraps a failed provider invocation.
type ProviderError struct {
	Kind    ProviderErrorKind
	Status  int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ProviderTimeout, ProviderConnection, ProviderServiceUnavailable:
		return true
	}
	return false
}

func (e *ProviderError) Code() string {
	return "PROVIDER_" + strings.ToUpper(string(e.Kind))
}

// ErrorInfo maps err onto the (type, code) pair used in results, logs and
// metrics.
func ErrorInfo(err error) (string, string) {
	var (
		validationErr *ValidationError
		conflictErr   *VersionConflictError
		modeErr       *InvalidModeError
		providerErr   *ProviderError
	)
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, ErrBusy):
		return ErrorTypeBusy, "AGENT_BUSY"
	case errors.As(err, &validationErr):
		return ErrorTypeValidation, "VALIDATION_ERROR"
	case errors.As(err, &conflictErr):
		return ErrorTypeVersionConflict, "SESSION_VERSION_CONFLICT"
	case errors.As(err, &modeErr):
		return ErrorTypeInvalidMode, "INVALID_MODE"
	case errors.Is(err, ErrSessionDeleted):
		return ErrorTypeSessionDeleted, "SESSION_DELETED"
	case errors.Is(err, ErrNotFound):
		return ErrorTypeNotFound, "NOT_FOUND"
	case errors.As(err, &providerErr):
		if providerErr.Retryable() {
			return ErrorTypeRetryableProvider, providerErr.Code()
		}
		return ErrorTypeTerminalProvider, providerErr.Code()
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeRetryableProvider, "PROVIDER_TIMEOUT"
	}
	return ErrorTypeInternal, "INTERNAL_ERROR"
}

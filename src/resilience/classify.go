package resilience

import (
	"context"
	"errors"
	"net"

	"learnassist/src/model"
)

// Class tells the controller what to do with a failed attempt.
type Class int

const (
	// Terminal failures are surfaced immediately.
	Terminal Class = iota
	// Retryable failures are retried with backoff.
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "terminal"
}

// Classify sorts err into retryable or terminal. Rate limits are terminal:
// they are surfaced to the caller as backpressure rather than retried.
func Classify(err error) Class {
	var providerErr *model.ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.Retryable() {
			return Retryable
		}
		return Terminal
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}

	return Terminal
}

// Package resilience wraps provider calls with bounded exponential backoff.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"learnassist/src/logger"
	"learnassist/src/model"

	"github.com/cenkalti/backoff/v4"
)

// Outcome describes how a controlled call ended. Exhausted is set when every
// attempt failed with a retryable error; the caller then builds a fallback
// result instead of failing.
type Outcome struct {
	Attempts  int
	Exhausted bool
	LastErr   error
}

// Attempt is one provider call. ctx carries the per-attempt timeout.
type Attempt func(ctx context.Context, attempt int) error

type Controller struct {
	timeout    time.Duration
	maxRetries int
	base       time.Duration
	maxDelay   time.Duration
}

func NewController(cfg model.ExecutionConfig) *Controller {
	maxDelay := cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = backoff.DefaultMaxInterval
	}
	return &Controller{
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		base:       cfg.RetryBase,
		maxDelay:   maxDelay,
	}
}

func (c *Controller) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

// Do runs fn until it succeeds, fails terminally, or retries are exhausted.
// Only a terminal failure or cancellation of ctx is returned as an error.
func (c *Controller) Do(ctx context.Context, kind model.Kind, fn Attempt) (Outcome, error) {
	var (
		out     Outcome
		lastErr error
	)

	operation := func() error {
		out.Attempts++
		attemptCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		err := fn(attemptCtx, out.Attempts)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = &model.ProviderError{Kind: model.ProviderTimeout, Message: fmt.Sprintf("no response within %s", c.timeout), Err: err}
		}
		lastErr = err
		if Classify(err) == Terminal {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn().
			Err(err).
			Str("kind", string(kind)).
			Int("attempt", out.Attempts).
			Dur("backoff", wait).
			Msg("Retrying provider call")
	}

	err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify)
	switch {
	case err == nil:
		return out, nil
	case ctx.Err() != nil:
		return out, ctx.Err()
	case Classify(err) == Terminal:
		return out, err
	}

	out.Exhausted = true
	out.LastErr = lastErr
	logger.Error().
		Err(lastErr).
		Str("kind", string(kind)).
		Int("attempts", out.Attempts).
		Msg("Provider retries exhausted, falling back")
	return out, nil
}

// Budget is the worst-case wall time of one controlled call under cfg.
func Budget(cfg model.ExecutionConfig) time.Duration {
	total := cfg.Timeout * time.Duration(cfg.MaxRetries+1)
	delay := cfg.RetryBase
	for i := 0; i < cfg.MaxRetries; i++ {
		if cfg.RetryMaxDelay > 0 && delay > cfg.RetryMaxDelay {
			delay = cfg.RetryMaxDelay
		}
		total += delay
		delay *= 2
	}
	return total
}

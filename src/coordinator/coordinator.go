// Package coordinator runs analyses under the execution lock, with result
// caching and provider retry/fallback, singly, as chains or as fan-outs.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"learnassist/src/analysis"
	"learnassist/src/cache"
	"learnassist/src/lock"
	"learnassist/src/logger"
	"learnassist/src/model"
	"learnassist/src/provider"
	"learnassist/src/resilience"

	"github.com/rs/zerolog"
)

// Coordinator is safe for concurrent use.
type Coordinator struct {
	registry   *analysis.Registry
	provider   provider.Provider
	locker     lock.Locker
	cache      cache.Cache
	controller *resilience.Controller
	metrics    *Metrics
	stats      *statsRecorder
	lockTTL    time.Duration
	cacheTTL   time.Duration
	log        *zerolog.Logger
}

// Config wires a Coordinator. Metrics may be nil.
type Config struct {
	Registry  *analysis.Registry
	Provider  provider.Provider
	Locker    lock.Locker
	Cache     cache.Cache
	Metrics   *Metrics
	Execution model.ExecutionConfig
}

func New(cfg Config) *Coordinator {
	return &Coordinator{
		registry:   cfg.Registry,
		provider:   cfg.Provider,
		locker:     cfg.Locker,
		cache:      cfg.Cache,
		controller: resilience.NewController(cfg.Execution),
		metrics:    cfg.Metrics,
		stats:      newStatsRecorder(),
		lockTTL:    cfg.Execution.LockTTL,
		cacheTTL:   cfg.Execution.CacheTTL,
		log:        logger.Component("coordinator"),
	}
}

// Execute runs one analysis. It never returns nil and never panics on
// provider failure: errors are reported inside the result.
func (c *Coordinator) Execute(ctx context.Context, kind model.Kind, sessionID, requestID string, inputs map[string]any) *model.ExecutionResult {
	start := time.Now()
	result := c.execute(ctx, kind, sessionID, requestID, inputs)
	result.Kind = kind
	result.Metadata.RequestID = requestID
	result.Metadata.Elapsed = time.Since(start)

	c.record(sessionID, result)
	return result
}

// Submit runs req. It is Execute for callers that pass requests around as
// values.
func (c *Coordinator) Submit(ctx context.Context, req model.ExecutionRequest) *model.ExecutionResult {
	return c.Execute(ctx, req.Kind, req.SessionID, req.RequestID, req.Inputs)
}

func (c *Coordinator) execute(ctx context.Context, kind model.Kind, sessionID, requestID string, inputs map[string]any) *model.ExecutionResult {
	capability, err := c.registry.Get(kind)
	if err != nil {
		return model.NewFailedResult(kind, requestID, err)
	}
	if err := capability.Validate(inputs); err != nil {
		return model.NewFailedResult(kind, requestID, err)
	}

	cacheable := capability.Cacheable()
	var key string
	if cacheable {
		key, err = cache.Key(kind, inputs)
		if err != nil {
			return model.NewFailedResult(kind, requestID, model.NewValidationError("inputs", err.Error()))
		}
		if entry, ok := c.lookup(ctx, key); ok {
			return &model.ExecutionResult{
				Success:  true,
				Data:     entry.Payload,
				Metadata: model.ResultMetadata{FromCache: true},
			}
		}
	}

	acquired, err := c.locker.Acquire(ctx, sessionID, kind, requestID, c.lockTTL)
	if err != nil {
		return model.NewFailedResult(kind, requestID, fmt.Errorf("failed to acquire execution lock: %w", err))
	}
	if !acquired {
		result := model.NewFailedResult(kind, requestID, model.ErrBusy)
		result.Metadata.Busy = true
		return result
	}
	defer c.release(ctx, sessionID, kind, requestID)

	messages, err := capability.BuildRequest(ctx, inputs)
	if err != nil {
		return model.NewFailedResult(kind, requestID, err)
	}

	var resp *provider.Response
	outcome, err := c.controller.Do(ctx, kind, func(ctx context.Context, attempt int) error {
		r, err := c.provider.Invoke(ctx, messages, capability.Params())
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		result := model.NewFailedResult(kind, requestID, err)
		result.Metadata.Attempts = outcome.Attempts
		return result
	}
	if outcome.Exhausted {
		result := model.NewFailedResult(kind, requestID, outcome.LastErr)
		result.Data = capability.Fallback()
		result.Metadata.Fallback = true
		result.Metadata.Attempts = outcome.Attempts
		return result
	}

	result := &model.ExecutionResult{
		Success: true,
		Metadata: model.ResultMetadata{
			Attempts: outcome.Attempts,
			Model:    resp.Model,
			Usage:    resp.Usage,
		},
	}

	data, err := capability.Decode(resp.Content)
	var lowErr *analysis.LowConfidenceError
	switch {
	case errors.As(err, &lowErr):
		c.log.Warn().
			Str("kind", string(kind)).
			Str("session_id", sessionID).
			Strs("missing", lowErr.Missing).
			Msg(lowErr.Reason)
		result.Data = lowErr.Partial
		result.Metadata.LowConfidence = true
		return result
	case err != nil:
		failed := model.NewFailedResult(kind, requestID, err)
		failed.Metadata = result.Metadata
		return failed
	}

	result.Data = data
	if !cacheable {
		return result
	}
	if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
		c.log.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to cache analysis result")
	}
	return result
}

// lookup treats cache errors as misses.
func (c *Coordinator) lookup(ctx context.Context, key string) (*model.CacheEntry, bool) {
	entry, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache lookup failed, recomputing")
		return nil, false
	}
	return entry, ok
}

// release runs on every exit path of an execution that acquired the lock,
// including cancellation of ctx.
func (c *Coordinator) release(ctx context.Context, sessionID string, kind model.Kind, requestID string) {
	released, err := c.locker.Release(context.WithoutCancel(ctx), sessionID, kind, requestID)
	switch {
	case err != nil:
		c.log.Error().Err(err).
			Str("session_id", sessionID).
			Str("kind", string(kind)).
			Str("request_id", requestID).
			Msg("Failed to release execution lock")
	case !released:
		c.log.Warn().
			Str("session_id", sessionID).
			Str("kind", string(kind)).
			Str("request_id", requestID).
			Msg("Execution lock expired before release")
	}
}

func (c *Coordinator) record(sessionID string, result *model.ExecutionResult) {
	c.metrics.observe(result)
	c.stats.observe(result)

	if result.Error == nil {
		c.log.Info().
			Str("kind", string(result.Kind)).
			Str("session_id", sessionID).
			Str("request_id", result.Metadata.RequestID).
			Bool("from_cache", result.Metadata.FromCache).
			Bool("low_confidence", result.Metadata.LowConfidence).
			Dur("elapsed", result.Metadata.Elapsed).
			Msg("Analysis completed")
		return
	}

	event := c.log.Error()
	if result.Metadata.Busy || result.Error.Type == model.ErrorTypeValidation {
		event = c.log.Warn()
	}
	event.
		Str("kind", string(result.Kind)).
		Str("session_id", sessionID).
		Str("request_id", result.Metadata.RequestID).
		Str("error_type", result.Error.Type).
		Str("error_code", result.Error.Code).
		Bool("fallback", result.Metadata.Fallback).
		Int("attempts", result.Metadata.Attempts).
		Msg(result.Error.Message)
}

// Stats returns per-kind counters since the coordinator was created.
func (c *Coordinator) Stats() map[model.Kind]KindStats {
	return c.stats.snapshot()
}

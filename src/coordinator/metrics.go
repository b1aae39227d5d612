package coordinator

import (
	"sync"
	"time"

	"learnassist/src/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded per execution.
const (
	outcomeSuccess       = "success"
	outcomeCacheHit      = "cache_hit"
	outcomeBusy          = "busy"
	outcomeFallback      = "fallback"
	outcomeLowConfidence = "low_confidence"
	outcomeFailure       = "failure"
)

// Metrics are the Prometheus collectors of the coordinator.
type Metrics struct {
	executions *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	tokens     *prometheus.CounterVec
}

// NewMetrics registers the coordinator collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "learnassist_executions_total",
			Help: "Analysis executions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "learnassist_execution_failures_total",
			Help: "Failed analysis executions by error type and code.",
		}, []string{"error_type", "error_code"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "learnassist_execution_duration_seconds",
			Help:    "Analysis execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "learnassist_provider_tokens_total",
			Help: "Provider tokens consumed by kind.",
		}, []string{"kind"}),
	}
}

func outcomeOf(result *model.ExecutionResult) string {
	switch {
	case result.Metadata.FromCache:
		return outcomeCacheHit
	case result.Metadata.Busy:
		return outcomeBusy
	case result.Metadata.Fallback:
		return outcomeFallback
	case result.Metadata.LowConfidence:
		return outcomeLowConfidence
	case result.Success:
		return outcomeSuccess
	}
	return outcomeFailure
}

func (m *Metrics) observe(result *model.ExecutionResult) {
	if m == nil {
		return
	}
	kind := string(result.Kind)
	m.executions.WithLabelValues(kind, outcomeOf(result)).Inc()
	m.duration.WithLabelValues(kind).Observe(result.Metadata.Elapsed.Seconds())
	if result.Error != nil {
		m.failures.WithLabelValues(result.Error.Type, result.Error.Code).Inc()
	}
	if u := result.Metadata.Usage; u != nil && !result.Metadata.FromCache {
		m.tokens.WithLabelValues(kind).Add(float64(u.TotalTokens))
	}
}

// KindStats are in-process counters for one kind.
type KindStats struct {
	Calls        int64         `json:"calls"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	CacheHits    int64         `json:"cache_hits"`
	Fallbacks    int64         `json:"fallbacks"`
	Busy         int64         `json:"busy"`
	TotalTokens  int64         `json:"total_tokens"`
	TotalLatency time.Duration `json:"total_latency"`
	AvgLatency   time.Duration `json:"avg_latency"`
}

type statsRecorder struct {
	mu    sync.Mutex
	kinds map[model.Kind]*KindStats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{kinds: make(map[model.Kind]*KindStats)}
}

func (s *statsRecorder) observe(result *model.ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.kinds[result.Kind]
	if !ok {
		st = &KindStats{}
		s.kinds[result.Kind] = st
	}
	st.Calls++
	st.TotalLatency += result.Metadata.Elapsed
	switch {
	case result.Metadata.FromCache:
		st.CacheHits++
		st.Successes++
	case result.Success:
		st.Successes++
	default:
		st.Failures++
	}
	if result.Metadata.Fallback {
		st.Fallbacks++
	}
	if result.Metadata.Busy {
		st.Busy++
	}
	if u := result.Metadata.Usage; u != nil && !result.Metadata.FromCache {
		st.TotalTokens += int64(u.TotalTokens)
	}
}

func (s *statsRecorder) snapshot() map[model.Kind]KindStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[model.Kind]KindStats, len(s.kinds))
	for kind, st := range s.kinds {
		cp := *st
		if cp.Calls > 0 {
			cp.AvgLatency = cp.TotalLatency / time.Duration(cp.Calls)
		}
		out[kind] = cp
	}
	return out
}

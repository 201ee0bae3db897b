// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package metrics defines the Prometheus collectors for the query pipeline.

Architecture:

  - All collectors hang off a [Set] created once in main with an injected
    registry. Nothing is registered lazily and nothing is global, so tests
    can build isolated sets.
  - The gateway exposes the registry on /metrics via promhttp.
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set holds every collector the pipeline emits to.
type Set struct {
	// Requests counts finished requests by database and terminal outcome
	// (executed, denied, failed, rate_limited).
	Requests *prometheus.CounterVec

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration *prometheus.HistogramVec

	// LLMTokens counts language-model tokens consumed, by database.
	LLMTokens *prometheus.CounterVec

	// LLMRetries counts model re-asks triggered by SQL syntax errors.
	LLMRetries prometheus.Counter

	// RateLimitRejections counts admissions refused, by window.
	RateLimitRejections *prometheus.CounterVec

	// SchemaRefreshes counts schema introspections, by database and result.
	SchemaRefreshes *prometheus.CounterVec

	// AuditDropped counts audit events discarded due to sink back-pressure.
	AuditDropped prometheus.Counter

	// ExplainCacheHits counts plan validations served from the TTL cache.
	ExplainCacheHits prometheus.Counter
}

// New builds and registers the collector set on the given registerer.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "requests_total",
			Help:      "Finished natural-language query requests by outcome.",
		}, []string{"database", "outcome"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "querygate",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database"}),

		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "llm_tokens_total",
			Help:      "Language-model tokens consumed.",
		}, []string{"database"}),

		LLMRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "llm_syntax_retries_total",
			Help:      "Model re-asks caused by unparseable SQL.",
		}),

		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "ratelimit_rejections_total",
			Help:      "Requests refused by the rate limiter.",
		}, []string{"window"}),

		SchemaRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "schema_refreshes_total",
			Help:      "Schema cache introspection runs.",
		}, []string{"database", "result"}),

		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "audit_dropped_total",
			Help:      "Audit events dropped due to a full sink queue.",
		}),

		ExplainCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "explain_cache_hits_total",
			Help:      "Plan validations served from the TTL cache.",
		}),
	}

	reg.MustRegister(
		s.Requests, s.RequestDuration, s.LLMTokens, s.LLMRetries,
		s.RateLimitRejections, s.SchemaRefreshes, s.AuditDropped,
		s.ExplainCacheHits,
	)
	return s
}

// NewForTest builds a set on a throwaway registry.
func NewForTest() *Set {
	return New(prometheus.NewRegistry())
}

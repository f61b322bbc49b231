// Package metrics registers the Prometheus metrics used by the generation
// functions. The server entry point mounts promhttp on /metrics; everything
// else only increments the package-level vectors below.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider attempt metrics.
var (
	// Attempts counts individual provider calls, labelled by provider, model
	// and outcome ("success", "transient", "permanent", "model_unavailable",
	// "circuit_open").
	Attempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgen_provider_attempts_total",
			Help: "Total provider calls made by the fallback invoker.",
		},
		[]string{"provider", "model", "outcome"},
	)

	// AttemptDuration observes single-attempt latency in seconds.
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexgen_provider_attempt_duration_seconds",
			Help:    "Provider call duration in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	// Exhausted counts invocations that ran out of models and credentials.
	Exhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgen_provider_exhausted_total",
			Help: "Invocations that failed after every model/credential pair.",
		},
		[]string{"provider"},
	)
)

// Cache metrics.
var (
	// CacheLookups counts read-through lookups by outcome ("hit", "miss",
	// "stale", "forced").
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgen_cache_lookups_total",
			Help: "Cache read-through lookups by outcome.",
		},
		[]string{"outcome"},
	)

	// CacheWriteErrors counts failed upserts; the payload is still served.
	CacheWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lexgen_cache_write_errors_total",
			Help: "Cache upserts that failed after a successful generation.",
		},
	)
)

// HTTP-facing metrics.
var (
	// GenerationsTotal counts generation requests per profile and status
	// ("cached", "generated", "error").
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgen_generations_total",
			Help: "Generation requests handled, by profile and status.",
		},
		[]string{"profile", "status"},
	)

	// RateLimitRejections counts requests rejected by the per-IP limiter.
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lexgen_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
	)

	// CircuitBreakerState tracks per-credential breaker state:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lexgen_circuit_breaker_state",
			Help: "Circuit breaker state per provider credential (0=closed 1=open 2=half_open).",
		},
		[]string{"provider", "credential"},
	)
)

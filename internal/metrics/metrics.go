// Package metrics provides the Prometheus instrumentation for routing
// attempts, breaker state, and the degraded-mode signal.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RoutedRequestsTotal counts caller-facing routed requests by task type
	// and terminal outcome (success, exhausted, fatal, canceled).
	RoutedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_routed_requests_total",
			Help: "Routed requests by terminal outcome",
		},
		[]string{"task_type", "outcome"},
	)

	// AttemptsTotal counts individual provider attempts.
	// outcome: success, retryable, fatal, circuit_open, canceled.
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_attempts_total",
			Help: "Provider attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// AttemptLatency records provider attempt latency in seconds.
	AttemptLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrelay_attempt_latency_seconds",
			Help:    "Provider attempt latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider"},
	)

	// BreakerState tracks the per-provider breaker state:
	// 0 = closed, 1 = half-open, 2 = open.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelrelay_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	// BreakerTransitionsTotal counts breaker state transitions.
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_breaker_transitions_total",
			Help: "Circuit breaker transitions",
		},
		[]string{"provider", "to"},
	)

	// AvailableRatio is the degraded-mode signal: the share of enabled
	// providers whose breaker is not open.
	AvailableRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrelay_available_provider_ratio",
			Help: "Share of enabled providers with a non-open breaker",
		},
	)

	// StreamingConnections tracks active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrelay_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RoutedRequestsTotal,
		AttemptsTotal,
		AttemptLatency,
		BreakerState,
		BreakerTransitionsTotal,
		AvailableRatio,
		StreamingConnections,
	)
}

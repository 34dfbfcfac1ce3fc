package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "warden"

// MetricsCollector holds all Prometheus metrics for Warden.
// Uses a custom registry, never the global one.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Authorization decisions.
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
	GuardChecksTotal *prometheus.CounterVec

	// Confirmation tokens.
	TokenOpsTotal *prometheus.CounterVec

	// Audit trail.
	AuditWritesTotal        *prometheus.CounterVec
	AuditWriteFailuresTotal prometheus.Counter

	// Resource backend.
	BackendCallsTotal   *prometheus.CounterVec
	BackendCallDuration *prometheus.HistogramVec

	// Intent parsing.
	IntentParsesTotal   *prometheus.CounterVec
	IntentParseDuration prometheus.Histogram

	// LLM provider calls made by the intent parser.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Authorization decisions by action, outcome status and reason.",
		}, []string{"action", "status", "reason"}),

		DecisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "decision_duration_seconds",
			Help:      "Time from request to outcome, execution included.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"action"}),

		GuardChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "checks_total",
			Help:      "Budget and backup guard evaluations.",
		}, []string{"guard", "result"}),

		TokenOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirmation",
			Name:      "token_operations_total",
			Help:      "Confirmation token issue and verify operations by result.",
		}, []string{"operation", "result"}),

		AuditWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "writes_total",
			Help:      "Audit records written by status.",
		}, []string{"status"}),

		AuditWriteFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Audit writes that failed and were skipped.",
		}),

		BackendCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Resource backend calls by operation and status.",
		}, []string{"operation", "status"}),

		BackendCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Resource backend call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		IntentParsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "parses_total",
			Help:      "Intent parses by result (parsed or help).",
		}, []string{"result"}),

		IntentParseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "parse_duration_seconds",
			Help:      "Intent parse duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "direction"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.DecisionsTotal,
		m.DecisionDuration,
		m.GuardChecksTotal,
		m.TokenOpsTotal,
		m.AuditWritesTotal,
		m.AuditWriteFailuresTotal,
		m.BackendCallsTotal,
		m.BackendCallDuration,
		m.IntentParsesTotal,
		m.IntentParseDuration,
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

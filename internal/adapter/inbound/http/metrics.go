// Package http provides ThoughtGate's single inbound transport.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series ThoughtGate exports, per §10.3:
// request totals by verdict, evaluation latency, approval outcomes, the
// zombie-execution-prevented counter, policy reload counts, and
// streaming bytes forwarded.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	EvaluationDuration prometheus.Histogram
	ApprovalOutcomes   *prometheus.CounterVec
	ZombiePrevented    prometheus.Counter
	PolicyReloadsTotal *prometheus.CounterVec
	BytesForwarded     prometheus.Counter
}

// NewMetrics registers all of ThoughtGate's metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "thoughtgate",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests handled, by method and verdict",
			},
			[]string{"method", "verdict"}, // verdict=ok/error (HTTP-level outcome)
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "thoughtgate",
				Name:      "request_duration_seconds",
				Help:      "End-to-end request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		EvaluationDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "thoughtgate",
				Name:      "policy_evaluation_duration_seconds",
				Help:      "Cedar policy evaluation latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us .. ~0.82s
			},
		),
		ApprovalOutcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "thoughtgate",
				Name:      "approval_outcomes_total",
				Help:      "Human-in-the-loop approval decisions, by outcome",
			},
			[]string{"outcome"}, // outcome=approved/rejected/timed_out
		),
		ZombiePrevented: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "thoughtgate",
				Name:      "zombie_executions_prevented_total",
				Help:      "Approvals resolved after the requesting connection had already gone away",
			},
		),
		PolicyReloadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "thoughtgate",
				Name:      "policy_reloads_total",
				Help:      "Cedar policy hot-reload attempts, by result",
			},
			[]string{"result"}, // result=ok/error
		),
		BytesForwarded: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "thoughtgate",
				Name:      "stream_bytes_forwarded_total",
				Help:      "Bytes relayed from upstream response bodies",
			},
		),
	}
}

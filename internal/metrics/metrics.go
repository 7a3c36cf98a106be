// Package metrics defines the Prometheus collectors for the subscription lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LifecycleTransitions counts committed subscription transitions.
	// Labels:
	//   - transition: created, renewed, superseded, cancelled, expired
	LifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportly_lifecycle_transitions_total",
			Help: "Total number of committed subscription transitions",
		},
		[]string{"transition"},
	)

	// PaymentConfirmations counts payment confirmation attempts by outcome.
	// Labels:
	//   - gateway: midtrans, xendit, stripe, manual
	//   - outcome: committed, replayed, rejected, failed
	PaymentConfirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportly_payment_confirmations_total",
			Help: "Total number of payment confirmation attempts",
		},
		[]string{"gateway", "outcome"},
	)

	// SideEffectFailures counts degraded side effects that were reported as warnings.
	// Labels:
	//   - effect: membership, notification, gateway
	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportly_side_effect_failures_total",
			Help: "Total number of side effects that failed after the state change committed",
		},
		[]string{"effect"},
	)

	// ExternalCallDuration measures calls to gateways, the chat service and mailers.
	ExternalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportly_external_call_duration_seconds",
			Help:    "Duration of calls to external systems in seconds",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"system", "op"},
	)

	// SweepRuns counts expiry sweeps.
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportly_sweep_runs_total",
		Help: "Total number of expiry sweeps",
	})

	// SweepDuration measures a full expiry sweep.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "supportly_sweep_duration_seconds",
		Help:    "Duration of expiry sweeps in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	// SweepActions counts per-subscription sweep actions.
	// Labels:
	//   - action: expired, reminder, skipped, error
	SweepActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportly_sweep_actions_total",
			Help: "Total number of per-subscription sweep actions",
		},
		[]string{"action"},
	)

	// NotificationsSent counts lifecycle emails by kind and delivery path.
	// Labels:
	//   - path: direct, outbox
	//   - outcome: sent, queued, suppressed, failed, dead
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportly_notifications_total",
			Help: "Total number of lifecycle notifications by outcome",
		},
		[]string{"kind", "path", "outcome"},
	)

	// BreakerState reports circuit breaker state per dependency (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supportly_circuit_breaker_state",
			Help: "Circuit breaker state per external dependency",
		},
		[]string{"name"},
	)

	// HTTPRequests counts HTTP requests by route pattern and status class.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportly_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RateLimited counts requests rejected by the per-client rate limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportly_http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

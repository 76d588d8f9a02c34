package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace is the metrics namespace for the cluster autoscaling engine
	Namespace = "clusterman"
)

var (
	// ScaleDecisionsTotal tracks the decisions produced by the engine
	ScaleDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scale_decisions_total",
			Help:      "Total number of scale decisions by action and reason",
		},
		[]string{"cluster", "action", "reason"},
	)

	// ScaleExecutionsTotal tracks executed decisions by outcome
	ScaleExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scale_executions_total",
			Help:      "Total number of executed scale actions by result",
		},
		[]string{"cluster", "action", "result"},
	)

	// PolicyOwnedNodes tracks the number of nodes owned by each policy
	PolicyOwnedNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "policy_owned_nodes",
			Help:      "Current number of autoscaler-owned nodes per policy",
		},
		[]string{"cluster", "policy"},
	)

	// PolicyMinNodes tracks the minimum nodes configuration
	PolicyMinNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "policy_min_nodes",
			Help:      "Minimum number of nodes configured for a policy",
		},
		[]string{"cluster", "policy"},
	)

	// PolicyMaxNodes tracks the maximum nodes configuration
	PolicyMaxNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "policy_max_nodes",
			Help:      "Maximum number of nodes configured for a policy",
		},
		[]string{"cluster", "policy"},
	)

	// GatewayRequestsTotal tracks node lifecycle gateway calls
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "gateway_requests_total",
			Help:      "Total number of node lifecycle gateway requests",
		},
		[]string{"operation", "status"},
	)

	// GatewayRequestDuration tracks the duration of gateway calls
	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Duration of node lifecycle gateway requests",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to 40s
		},
		[]string{"operation"},
	)

	// APIRequests tracks the number of backend API requests
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "api_requests_total",
			Help:      "Total number of backend API requests",
		},
		[]string{"method", "status"},
	)

	// APIRequestDuration tracks the duration of backend API requests
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Duration of backend API requests",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to 40s
		},
		[]string{"method"},
	)

	// APIErrors tracks backend API errors by type
	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "api_errors_total",
			Help:      "Total number of backend API errors by type",
		},
		[]string{"method", "error_type"},
	)

	// APIRateLimitedTotal tracks the number of times API requests were rate limited
	APIRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "api_rate_limited_total",
			Help:      "Total number of times backend API requests were rate limited",
		},
		[]string{"method"},
	)

	// APIRateLimitWaitDuration tracks the time spent waiting for rate limiter
	APIRateLimitWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "api_rate_limit_wait_duration_seconds",
			Help:      "Time spent waiting for the backend API rate limiter",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to 4s
		},
		[]string{"method"},
	)

	// APICircuitBreakerState tracks the breaker state as 0/1 gauges
	APICircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "api_circuit_breaker_state",
			Help:      "Current circuit breaker state (1 = active state)",
		},
		[]string{"state"},
	)

	// APICircuitBreakerStateChanges tracks breaker transitions
	APICircuitBreakerStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "api_circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	// LockContentionTotal tracks signals rejected on lock acquisition timeout
	LockContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "lock_contention_total",
			Help:      "Total number of scale signals rejected due to lock contention",
		},
		[]string{"cluster"},
	)

	// AuditDiscrepancies tracks drift between inventory and backend
	AuditDiscrepancies = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "audit_discrepancies",
			Help:      "Number of discrepancies between node inventory and backend state",
		},
		[]string{"cluster", "kind"},
	)

	// AuditEventsTotal tracks emitted audit events
	AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "audit_events_total",
			Help:      "Total number of audit events emitted",
		},
		[]string{"event_type", "category", "severity"},
	)

	// WebhookRequestsTotal tracks scale signal intake requests
	WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "webhook_requests_total",
			Help:      "Total number of scale signal webhook requests",
		},
		[]string{"direction", "status"},
	)
)

// RegisterMetrics registers all metrics with the given registerer
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		ScaleDecisionsTotal,
		ScaleExecutionsTotal,
		PolicyOwnedNodes,
		PolicyMinNodes,
		PolicyMaxNodes,
		GatewayRequestsTotal,
		GatewayRequestDuration,
		APIRequests,
		APIRequestDuration,
		APIErrors,
		APIRateLimitedTotal,
		APIRateLimitWaitDuration,
		APICircuitBreakerState,
		APICircuitBreakerStateChanges,
		LockContentionTotal,
		AuditDiscrepancies,
		AuditEventsTotal,
		WebhookRequestsTotal,
	)
}

// ResetMetrics resets all metrics (useful for testing)
func ResetMetrics() {
	ScaleDecisionsTotal.Reset()
	ScaleExecutionsTotal.Reset()
	PolicyOwnedNodes.Reset()
	PolicyMinNodes.Reset()
	PolicyMaxNodes.Reset()
	GatewayRequestsTotal.Reset()
	GatewayRequestDuration.Reset()
	APIRequests.Reset()
	APIRequestDuration.Reset()
	APIErrors.Reset()
	APIRateLimitedTotal.Reset()
	APIRateLimitWaitDuration.Reset()
	APICircuitBreakerState.Reset()
	APICircuitBreakerStateChanges.Reset()
	LockContentionTotal.Reset()
	AuditDiscrepancies.Reset()
	AuditEventsTotal.Reset()
	WebhookRequestsTotal.Reset()
}

package audit

// EventType represents the type of audit event
type EventType string

const (
	// Node Lifecycle Events
	EventNodeProvisioned     EventType = "node.provisioned"
	EventNodeProvisionFailed EventType = "node.provision_failed"
	EventNodeTerminated      EventType = "node.terminated"
	EventNodeTerminateFailed EventType = "node.terminate_failed"
	EventNodeDrained         EventType = "node.drained"
	EventNodeDrainFailed     EventType = "node.drain_failed"

	// Scaling Events
	EventScaleUpApplied    EventType = "scaling.up_applied"
	EventScaleUpNoop       EventType = "scaling.up_noop"
	EventScaleUpFailed     EventType = "scaling.up_failed"
	EventScaleDownApplied  EventType = "scaling.down_applied"
	EventScaleDownNoop     EventType = "scaling.down_noop"
	EventScaleDownFailed   EventType = "scaling.down_failed"
	EventScaleLockTimedOut EventType = "scaling.lock_timed_out"

	// Configuration Events
	EventPolicyCreated   EventType = "config.policy_created"
	EventPolicyUpdated   EventType = "config.policy_updated"
	EventPolicyDeleted   EventType = "config.policy_deleted"
	EventClusterCreated  EventType = "config.cluster_created"
	EventClusterUpdated  EventType = "config.cluster_updated"
	EventClusterTeardown EventType = "config.cluster_teardown"

	// Security Events
	EventAuthenticationFailed EventType = "security.authentication_failed"
	EventAPIRateLimited       EventType = "security.api_rate_limited"
	EventCircuitBreakerOpened EventType = "security.circuit_breaker_opened"
	EventCircuitBreakerClosed EventType = "security.circuit_breaker_closed"

	// API Events
	EventAPICallMade    EventType = "api.call_made"
	EventAPICallFailed  EventType = "api.call_failed"
	EventAPICallSuccess EventType = "api.call_success"

	// System Events
	EventServerStarted        EventType = "system.server_started"
	EventServerStopped        EventType = "system.server_stopped"
	EventInventoryAudited     EventType = "system.inventory_audited"
	EventInventoryDriftFound  EventType = "system.inventory_drift_found"
	EventInventoryAuditFailed EventType = "system.inventory_audit_failed"
)

// EventSeverity represents the severity level of an audit event
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// EventCategory groups related event types
type EventCategory string

const (
	CategoryNode     EventCategory = "node"
	CategoryScaling  EventCategory = "scaling"
	CategoryConfig   EventCategory = "config"
	CategorySecurity EventCategory = "security"
	CategoryAPI      EventCategory = "api"
	CategorySystem   EventCategory = "system"
)

// GetCategory returns the category for an event type
func GetCategory(eventType EventType) EventCategory {
	switch eventType {
	case EventNodeProvisioned, EventNodeProvisionFailed, EventNodeTerminated,
		EventNodeTerminateFailed, EventNodeDrained, EventNodeDrainFailed:
		return CategoryNode
	case EventScaleUpApplied, EventScaleUpNoop, EventScaleUpFailed,
		EventScaleDownApplied, EventScaleDownNoop, EventScaleDownFailed,
		EventScaleLockTimedOut:
		return CategoryScaling
	case EventPolicyCreated, EventPolicyUpdated, EventPolicyDeleted,
		EventClusterCreated, EventClusterUpdated, EventClusterTeardown:
		return CategoryConfig
	case EventAuthenticationFailed, EventAPIRateLimited,
		EventCircuitBreakerOpened, EventCircuitBreakerClosed:
		return CategorySecurity
	case EventAPICallMade, EventAPICallFailed, EventAPICallSuccess:
		return CategoryAPI
	default:
		return CategorySystem
	}
}

// GetSeverity returns the default severity for an event type
func GetSeverity(eventType EventType) EventSeverity {
	switch eventType {
	// Critical events
	case EventNodeProvisionFailed, EventNodeTerminateFailed,
		EventScaleUpFailed, EventScaleDownFailed,
		EventAuthenticationFailed:
		return SeverityCritical

	// Error events
	case EventNodeDrainFailed, EventAPICallFailed, EventInventoryAuditFailed:
		return SeverityError

	// Warning events
	case EventScaleLockTimedOut, EventAPIRateLimited,
		EventCircuitBreakerOpened, EventInventoryDriftFound:
		return SeverityWarning

	// Info events (default)
	default:
		return SeverityInfo
	}
}

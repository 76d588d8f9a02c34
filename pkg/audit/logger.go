package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cloudve/clusterman/pkg/logging"
	"github.com/cloudve/clusterman/pkg/metrics"
)

// AuditEvent represents a structured audit log entry
type AuditEvent struct {
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// EventType is the type of event (from events.go)
	EventType EventType `json:"eventType"`

	// Category groups related events
	Category EventCategory `json:"category"`

	// Severity indicates the importance level
	Severity EventSeverity `json:"severity"`

	// RequestID correlates the event with a specific request
	RequestID string `json:"requestId,omitempty"`

	// Actor identifies who/what initiated the action
	Actor string `json:"actor,omitempty"`

	// Resource identifies the affected resource
	Resource *ResourceInfo `json:"resource,omitempty"`

	// Details contains event-specific information
	Details map[string]interface{} `json:"details,omitempty"`

	// Outcome indicates success or failure
	Outcome string `json:"outcome,omitempty"`

	// Message is a human-readable description
	Message string `json:"message,omitempty"`

	// Duration is how long the operation took (for completed operations)
	Duration time.Duration `json:"duration,omitempty"`
}

// ResourceInfo identifies an affected resource
type ResourceInfo struct {
	// Kind is the resource type (Cluster, Policy, Node)
	Kind string `json:"kind"`

	// Name is the resource name or ID
	Name string `json:"name"`

	// ClusterID is the owning cluster (if applicable)
	ClusterID string `json:"clusterId,omitempty"`
}

// AuditLogger handles audit event logging
type AuditLogger struct {
	logger       *zap.Logger
	enabled      bool
	mu           sync.RWMutex
	defaultActor string
	eventSinks   []EventSink
}

// EventSink defines an interface for custom audit event destinations
type EventSink interface {
	// Write sends an audit event to the sink
	Write(event *AuditEvent) error

	// Close closes the sink
	Close() error
}

// AuditLoggerConfig configures the audit logger
type AuditLoggerConfig struct {
	// Enabled controls whether audit logging is active
	Enabled bool

	// Logger is the underlying zap logger
	Logger *zap.Logger

	// DefaultActor is the default actor if not specified
	DefaultActor string

	// EventSinks are additional destinations for audit events
	EventSinks []EventSink
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(config *AuditLoggerConfig) *AuditLogger {
	if config == nil {
		config = &AuditLoggerConfig{
			Enabled: true,
			Logger:  zap.NewNop(),
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuditLogger{
		logger:       logger.Named("audit"),
		enabled:      config.Enabled,
		defaultActor: config.DefaultActor,
		eventSinks:   config.EventSinks,
	}
}

// Log records an audit event
func (a *AuditLogger) Log(ctx context.Context, event *AuditEvent) {
	a.mu.RLock()
	enabled := a.enabled
	a.mu.RUnlock()

	if !enabled {
		return
	}

	// Fill in defaults
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = GetCategory(event.EventType)
	}
	if event.Severity == "" {
		event.Severity = GetSeverity(event.EventType)
	}
	if event.RequestID == "" {
		event.RequestID = logging.GetRequestID(ctx)
	}
	if event.Actor == "" {
		event.Actor = a.defaultActor
	}

	// Log the event
	fields := a.buildFields(event)
	switch event.Severity {
	case SeverityCritical:
		a.logger.Error(event.Message, fields...)
	case SeverityError:
		a.logger.Error(event.Message, fields...)
	case SeverityWarning:
		a.logger.Warn(event.Message, fields...)
	default:
		a.logger.Info(event.Message, fields...)
	}

	// Update metrics
	metrics.AuditEventsTotal.WithLabelValues(
		string(event.EventType),
		string(event.Category),
		string(event.Severity),
	).Inc()

	// Send to additional sinks
	for _, sink := range a.eventSinks {
		if err := sink.Write(event); err != nil {
			a.logger.Warn("Failed to write audit event to sink",
				zap.Error(err),
				zap.String("eventType", string(event.EventType)),
			)
		}
	}
}

// buildFields converts an AuditEvent to zap fields
func (a *AuditLogger) buildFields(event *AuditEvent) []zapcore.Field {
	fields := []zapcore.Field{
		zap.Time("timestamp", event.Timestamp),
		zap.String("eventType", string(event.EventType)),
		zap.String("category", string(event.Category)),
		zap.String("severity", string(event.Severity)),
	}

	if event.RequestID != "" {
		fields = append(fields, zap.String("requestId", event.RequestID))
	}
	if event.Actor != "" {
		fields = append(fields, zap.String("actor", event.Actor))
	}
	if event.Outcome != "" {
		fields = append(fields, zap.String("outcome", event.Outcome))
	}
	if event.Duration > 0 {
		fields = append(fields, zap.Duration("duration", event.Duration))
	}
	if event.Resource != nil {
		fields = append(fields, zap.Object("resource", zapResourceInfo{event.Resource}))
	}
	if len(event.Details) > 0 {
		// Serialize details to JSON for structured logging
		detailsJSON, _ := json.Marshal(event.Details)
		fields = append(fields, zap.String("details", string(detailsJSON)))
	}

	return fields
}

// zapResourceInfo wraps ResourceInfo for zap marshaling
type zapResourceInfo struct {
	*ResourceInfo
}

func (r zapResourceInfo) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", r.Kind)
	enc.AddString("name", r.Name)
	if r.ClusterID != "" {
		enc.AddString("clusterId", r.ClusterID)
	}
	return nil
}

// Enable enables audit logging
func (a *AuditLogger) Enable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = true
}

// Disable disables audit logging
func (a *AuditLogger) Disable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = false
}

// IsEnabled returns whether audit logging is enabled
func (a *AuditLogger) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Close closes all event sinks
func (a *AuditLogger) Close() error {
	for _, sink := range a.eventSinks {
		if err := sink.Close(); err != nil {
			a.logger.Warn("Failed to close audit event sink", zap.Error(err))
		}
	}
	return nil
}

// Helper methods for common audit events

// LogNodeProvisioned logs a node provisioning event
func (a *AuditLogger) LogNodeProvisioned(ctx context.Context, nodeID, policyID, clusterID, backendID string, duration time.Duration) {
	a.Log(ctx, &AuditEvent{
		EventType: EventNodeProvisioned,
		Message:   "Node provisioned successfully",
		Outcome:   "success",
		Duration:  duration,
		Resource: &ResourceInfo{
			Kind:      "Node",
			Name:      nodeID,
			ClusterID: clusterID,
		},
		Details: map[string]interface{}{
			"policy":    policyID,
			"backendId": backendID,
		},
	})
}

// LogNodeProvisionFailed logs a failed node provisioning event
func (a *AuditLogger) LogNodeProvisionFailed(ctx context.Context, policyID, clusterID, reason string) {
	a.Log(ctx, &AuditEvent{
		EventType: EventNodeProvisionFailed,
		Message:   "Node provisioning failed",
		Outcome:   "failure",
		Resource: &ResourceInfo{
			Kind:      "Cluster",
			Name:      clusterID,
			ClusterID: clusterID,
		},
		Details: map[string]interface{}{
			"policy": policyID,
			"reason": reason,
		},
	})
}

// LogNodeTerminated logs a node termination event
func (a *AuditLogger) LogNodeTerminated(ctx context.Context, nodeID, policyID, clusterID, backendID string) {
	a.Log(ctx, &AuditEvent{
		EventType: EventNodeTerminated,
		Message:   "Node terminated successfully",
		Outcome:   "success",
		Resource: &ResourceInfo{
			Kind:      "Node",
			Name:      nodeID,
			ClusterID: clusterID,
		},
		Details: map[string]interface{}{
			"policy":    policyID,
			"backendId": backendID,
		},
	})
}

// LogNodeTerminateFailed logs a failed node termination; the node
// stays in DRAINING for a later retry.
func (a *AuditLogger) LogNodeTerminateFailed(ctx context.Context, nodeID, clusterID, reason string) {
	a.Log(ctx, &AuditEvent{
		EventType: EventNodeTerminateFailed,
		Message:   "Node termination failed",
		Outcome:   "failure",
		Resource: &ResourceInfo{
			Kind:      "Node",
			Name:      nodeID,
			ClusterID: clusterID,
		},
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// LogNodeDrainFailed logs a failed drain; termination proceeds anyway.
func (a *AuditLogger) LogNodeDrainFailed(ctx context.Context, nodeID, clusterID, reason string) {
	a.Log(ctx, &AuditEvent{
		EventType: EventNodeDrainFailed,
		Message:   "Node drain failed",
		Outcome:   "failure",
		Resource: &ResourceInfo{
			Kind:      "Node",
			Name:      nodeID,
			ClusterID: clusterID,
		},
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// LogScaleDecision logs the outcome of one scale signal.
func (a *AuditLogger) LogScaleDecision(ctx context.Context, clusterID, direction, action, reason string, applied bool) {
	var eventType EventType
	switch {
	case direction == "up" && applied:
		eventType = EventScaleUpApplied
	case direction == "up":
		eventType = EventScaleUpNoop
	case applied:
		eventType = EventScaleDownApplied
	default:
		eventType = EventScaleDownNoop
	}
	outcome := "noop"
	if applied {
		outcome = "applied"
	}
	a.Log(ctx, &AuditEvent{
		EventType: eventType,
		Message:   "Scale signal processed",
		Outcome:   outcome,
		Resource: &ResourceInfo{
			Kind:      "Cluster",
			Name:      clusterID,
			ClusterID: clusterID,
		},
		Details: map[string]interface{}{
			"direction": direction,
			"action":    action,
			"reason":    reason,
		},
	})
}

// LogScaleFailed logs a scale execution failure.
func (a *AuditLogger) LogScaleFailed(ctx context.Context, clusterID, direction, reason string) {
	eventType := EventScaleUpFailed
	if direction == "down" {
		eventType = EventScaleDownFailed
	}
	a.Log(ctx, &AuditEvent{
		EventType: eventType,
		Message:   "Scale execution failed",
		Outcome:   "failure",
		Resource: &ResourceInfo{
			Kind:      "Cluster",
			Name:      clusterID,
			ClusterID: clusterID,
		},
		Details: map[string]interface{}{
			"direction": direction,
			"reason":    reason,
		},
	})
}

// LogLockTimedOut logs a scale signal rejected on lock contention.
func (a *AuditLogger) LogLockTimedOut(ctx context.Context, clusterID, policyID string) {
	a.Log(ctx, &AuditEvent{
		EventType: EventScaleLockTimedOut,
		Message:   "Scale signal rejected on lock contention",
		Outcome:   "rejected",
		Resource: &ResourceInfo{
			Kind:      "Cluster",
			Name:      clusterID,
			ClusterID: clusterID,
		},
		Details: map[string]interface{}{
			"policy": policyID,
		},
	})
}

// LogPolicyChange logs a policy create, update or delete.
func (a *AuditLogger) LogPolicyChange(ctx context.Context, eventType EventType, policyID, clusterID string, details map[string]interface{}) {
	a.Log(ctx, &AuditEvent{
		EventType: eventType,
		Message:   "Autoscaler policy changed",
		Outcome:   "success",
		Resource: &ResourceInfo{
			Kind:      "Policy",
			Name:      policyID,
			ClusterID: clusterID,
		},
		Details: details,
	})
}

// LogClusterTeardown logs a cluster delete cascade.
func (a *AuditLogger) LogClusterTeardown(ctx context.Context, clusterID string, nodesTornDown, failures int) {
	a.Log(ctx, &AuditEvent{
		EventType: EventClusterTeardown,
		Message:   "Cluster torn down",
		Outcome:   "success",
		Resource: &ResourceInfo{
			Kind:      "Cluster",
			Name:      clusterID,
			ClusterID: clusterID,
		},
		Details: map[string]interface{}{
			"nodesTornDown": nodesTornDown,
			"failures":      failures,
		},
	})
}

// LogInventoryAudit logs the result of an inventory-vs-backend sweep.
func (a *AuditLogger) LogInventoryAudit(ctx context.Context, clusterID string, discrepancies int) {
	eventType := EventInventoryAudited
	if discrepancies > 0 {
		eventType = EventInventoryDriftFound
	}
	a.Log(ctx, &AuditEvent{
		EventType: eventType,
		Message:   "Node inventory audited",
		Outcome:   "success",
		Resource: &ResourceInfo{
			Kind:      "Cluster",
			Name:      clusterID,
			ClusterID: clusterID,
		},
		Details: map[string]interface{}{
			"discrepancies": discrepancies,
		},
	})
}

// Global audit logger instance
var (
	globalAuditLogger   *AuditLogger
	globalAuditLoggerMu sync.RWMutex
)

// GetGlobalAuditLogger returns the global audit logger instance.
// If no logger has been set via SetGlobalAuditLogger, a default
// no-op logger is created and returned.
func GetGlobalAuditLogger() *AuditLogger {
	globalAuditLoggerMu.RLock()
	logger := globalAuditLogger
	globalAuditLoggerMu.RUnlock()

	if logger != nil {
		return logger
	}

	// Need to initialize - acquire write lock
	globalAuditLoggerMu.Lock()
	defer globalAuditLoggerMu.Unlock()

	// Double-check after acquiring write lock
	if globalAuditLogger != nil {
		return globalAuditLogger
	}

	globalAuditLogger = NewAuditLogger(nil)
	return globalAuditLogger
}

// SetGlobalAuditLogger sets the global audit logger instance.
// This is thread-safe and can be called concurrently with GetGlobalAuditLogger.
func SetGlobalAuditLogger(logger *AuditLogger) {
	globalAuditLoggerMu.Lock()
	defer globalAuditLoggerMu.Unlock()
	globalAuditLogger = logger
}

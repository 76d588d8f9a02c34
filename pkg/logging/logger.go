package logging

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "requestID"
)

// NewLogger creates a new structured logger
func NewLogger(development bool) (*zap.Logger, error) {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	// Always use ISO8601 time encoding
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context) context.Context {
	requestID := uuid.New().String()
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestIDField adds request ID field to logger if present in context
func WithRequestIDField(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if requestID := GetRequestID(ctx); requestID != "" {
		return logger.With(zap.String("requestID", requestID))
	}
	return logger
}

// LogScaleUpDecision logs a scale-up decision with full context
func LogScaleUpDecision(logger *zap.Logger, cluster, policy, zone string, ownedNodes, maxNodes int, reason string) {
	logger.Info("Scale-up decision made",
		zap.String("action", "scale-up"),
		zap.String("cluster", cluster),
		zap.String("policy", policy),
		zap.String("zone", zone),
		zap.Int("ownedNodes", ownedNodes),
		zap.Int("maxNodes", maxNodes),
		zap.String("reason", reason),
	)
}

// LogScaleDownDecision logs a scale-down decision with full context
func LogScaleDownDecision(logger *zap.Logger, cluster, policy, zone string, ownedNodes, minNodes int, reason string) {
	logger.Info("Scale-down decision made",
		zap.String("action", "scale-down"),
		zap.String("cluster", cluster),
		zap.String("policy", policy),
		zap.String("zone", zone),
		zap.Int("ownedNodes", ownedNodes),
		zap.Int("minNodes", minNodes),
		zap.String("reason", reason),
	)
}

// LogAPICall logs a cluster manager API call
func LogAPICall(logger *zap.Logger, method, endpoint string, requestID string) {
	logger.Debug("Cluster manager API call",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.String("requestID", requestID),
	)
}

// LogAPIResponse logs a cluster manager API response
func LogAPIResponse(logger *zap.Logger, method, endpoint string, statusCode int, duration string, requestID string) {
	logger.Debug("Cluster manager API response",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("statusCode", statusCode),
		zap.String("duration", duration),
		zap.String("requestID", requestID),
	)
}

// LogAPIError logs a cluster manager API error
func LogAPIError(logger *zap.Logger, method, endpoint string, statusCode int, err error, requestID string) {
	logger.Error("Cluster manager API error",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("statusCode", statusCode),
		zap.Error(err),
		zap.String("requestID", requestID),
	)
}

// LogNodeProvisioningStart logs the start of node provisioning
func LogNodeProvisioningStart(logger *zap.Logger, cluster, policy, vmType, zone string) {
	logger.Info("Starting node provisioning",
		zap.String("cluster", cluster),
		zap.String("policy", policy),
		zap.String("vmType", vmType),
		zap.String("zone", zone),
	)
}

// LogNodeProvisioningComplete logs the completion of node provisioning
func LogNodeProvisioningComplete(logger *zap.Logger, nodeID, cluster, policy string, duration string) {
	logger.Info("Node provisioning completed",
		zap.String("node", nodeID),
		zap.String("cluster", cluster),
		zap.String("policy", policy),
		zap.String("duration", duration),
	)
}

// LogNodeProvisioningFailed logs a node provisioning failure
func LogNodeProvisioningFailed(logger *zap.Logger, cluster, policy string, err error) {
	logger.Error("Node provisioning failed",
		zap.String("cluster", cluster),
		zap.String("policy", policy),
		zap.Error(err),
	)
}

// LogNodeTerminationStart logs the start of node termination
func LogNodeTerminationStart(logger *zap.Logger, nodeID, cluster, policy string) {
	logger.Info("Starting node termination",
		zap.String("node", nodeID),
		zap.String("cluster", cluster),
		zap.String("policy", policy),
	)
}

// LogNodeTerminationComplete logs the completion of node termination
func LogNodeTerminationComplete(logger *zap.Logger, nodeID, cluster, policy string, duration string) {
	logger.Info("Node termination completed",
		zap.String("node", nodeID),
		zap.String("cluster", cluster),
		zap.String("policy", policy),
		zap.String("duration", duration),
	)
}

// LogNodeTerminationFailed logs a node termination failure
func LogNodeTerminationFailed(logger *zap.Logger, nodeID, cluster, policy string, err error) {
	logger.Error("Node termination failed",
		zap.String("node", nodeID),
		zap.String("cluster", cluster),
		zap.String("policy", policy),
		zap.Error(err),
	)
}

// LogStateTransition logs a node state transition
func LogStateTransition(logger *zap.Logger, nodeID, cluster string, fromState, toState string) {
	logger.Info("Node state transition",
		zap.String("node", nodeID),
		zap.String("cluster", cluster),
		zap.String("fromState", fromState),
		zap.String("toState", toState),
	)
}

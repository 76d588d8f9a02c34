package scaler

import (
	"errors"
	"fmt"
)

// ErrLockContended is returned when the per-policy lock could not be
// acquired within the configured wait. The whole signal should be
// retried; no state was read or written.
var ErrLockContended = errors.New("scale lock contended")

// GatewayOp names the gateway call that failed.
type GatewayOp string

const (
	// OpProvision is the node provisioning call.
	OpProvision GatewayOp = "provision"
	// OpDrain is the workload eviction call.
	OpDrain GatewayOp = "drain"
	// OpDelete is the node removal call.
	OpDelete GatewayOp = "delete"
	// OpList is the backend inventory call.
	OpList GatewayOp = "list"
)

// GatewayError wraps a backend failure with the operation and, when
// known, the affected node.
type GatewayError struct {
	Op     GatewayOp
	NodeID string
	Err    error
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("gateway %s node %s: %v", e.Op, e.NodeID, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError creates a GatewayError.
func NewGatewayError(op GatewayOp, nodeID string, err error) *GatewayError {
	return &GatewayError{Op: op, NodeID: nodeID, Err: err}
}

// IsGatewayError checks if the error is a gateway failure, returning
// the typed error for inspection.
func IsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// IsLockContended checks if the error is a lock acquisition timeout.
func IsLockContended(err error) bool {
	return errors.Is(err, ErrLockContended)
}

package scaler

import (
	"context"
)

// BackendNode is a node as the cluster manager backend reports it.
type BackendNode struct {
	BackendID string
	Name      string
	State     string
}

// NodeLifecycleGateway is the executor's only path to the backing
// cluster manager. Implementations must honor context cancellation;
// the executor bounds every call with a timeout.
type NodeLifecycleGateway interface {
	// Provision launches a worker node and returns its backend ID.
	Provision(ctx context.Context, vmType, zone string) (string, error)
	// Drain evicts workloads from the node. Best effort; the executor
	// proceeds to Delete on failure.
	Drain(ctx context.Context, backendID string) error
	// Delete removes the node from the backend. Deleting a node the
	// backend no longer knows must succeed.
	Delete(ctx context.Context, backendID string) error
	// List returns the nodes the backend currently tracks.
	List(ctx context.Context) ([]BackendNode, error)
}

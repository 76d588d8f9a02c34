package client

import "context"

// RancherClient defines the interface for interacting with the Rancher API
// This interface is implemented by the Client struct and can be mocked for testing
type RancherClient interface {
	// Node operations
	ListNodes(ctx context.Context) ([]Node, error)
	GetNode(ctx context.Context, nodeID string) (*Node, error)
	LaunchNode(ctx context.Context, req LaunchNodeRequest) (*Node, error)
	DrainNode(ctx context.Context, nodeID string) error
	DeleteNode(ctx context.Context, nodeID string) error

	// Registration operations
	GetRegistrationToken(ctx context.Context) (*RegistrationToken, error)

	// Close cleans up client resources
	Close() error
}

// Ensure Client implements RancherClient interface
var _ RancherClient = (*Client)(nil)

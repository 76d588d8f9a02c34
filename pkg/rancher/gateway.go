// Package rancher adapts the Rancher API client to the node lifecycle
// gateway the scaling executor drives.
package rancher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudve/clusterman/pkg/rancher/client"
	"github.com/cloudve/clusterman/pkg/scaler"
)

// Gateway implements scaler.NodeLifecycleGateway on top of the
// Rancher v3 API.
type Gateway struct {
	client client.RancherClient
	logger *zap.Logger
	// hostnamePrefix prefixes generated worker hostnames.
	hostnamePrefix string
}

var _ scaler.NodeLifecycleGateway = (*Gateway)(nil)

// NewGateway creates a gateway over the given Rancher client.
func NewGateway(c client.RancherClient, logger *zap.Logger, hostnamePrefix string) *Gateway {
	if hostnamePrefix == "" {
		hostnamePrefix = "clusterman-worker"
	}
	return &Gateway{
		client:         c,
		logger:         logger,
		hostnamePrefix: hostnamePrefix,
	}
}

// Provision launches one worker node and returns its Rancher node ID.
func (g *Gateway) Provision(ctx context.Context, vmType, zone string) (string, error) {
	hostname := fmt.Sprintf("%s-%s", g.hostnamePrefix, uuid.New().String()[:8])

	start := time.Now()
	node, err := g.client.LaunchNode(ctx, client.LaunchNodeRequest{
		RequestedHostname: hostname,
		VMType:            vmType,
		Zone:              zone,
	})
	if err != nil {
		return "", err
	}

	g.logger.Info("Worker node launched",
		zap.String("backendID", node.ID),
		zap.String("hostname", hostname),
		zap.String("vmType", vmType),
		zap.String("zone", zone),
		zap.Duration("duration", time.Since(start)),
	)
	return node.ID, nil
}

// Drain triggers the Rancher drain action on the node.
func (g *Gateway) Drain(ctx context.Context, backendID string) error {
	return g.client.DrainNode(ctx, backendID)
}

// Delete removes the node. The client already treats a 404 as
// success, so deleting an already-gone node is a no-op here too.
func (g *Gateway) Delete(ctx context.Context, backendID string) error {
	return g.client.DeleteNode(ctx, backendID)
}

// List reports the backend's current worker nodes.
func (g *Gateway) List(ctx context.Context) ([]scaler.BackendNode, error) {
	nodes, err := g.client.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]scaler.BackendNode, 0, len(nodes))
	for _, n := range nodes {
		if !n.Worker {
			continue
		}
		out = append(out, scaler.BackendNode{
			BackendID: n.ID,
			Name:      n.Hostname,
			State:     n.State,
		})
	}
	return out, nil
}

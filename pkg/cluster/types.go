// Package cluster holds the data model for managed clusters, their
// autoscaler policies and the node inventory, plus in-memory stores
// that guard them. The stores hold no scaling logic; decisions are
// made in pkg/scaler against snapshots taken here.
package cluster

import (
	"time"
)

// NodeState is the lifecycle state of a tracked node.
type NodeState string

const (
	// NodePending means the backend accepted the provision request and
	// the node has not reported in yet.
	NodePending NodeState = "PENDING"
	// NodeActive means the node is registered and serving.
	NodeActive NodeState = "ACTIVE"
	// NodeDraining means workloads are being evicted ahead of deletion.
	NodeDraining NodeState = "DRAINING"
	// NodeDeleting means the backend delete call is in flight.
	NodeDeleting NodeState = "DELETING"
	// NodeDeleted is terminal; the record is removed right after.
	NodeDeleted NodeState = "DELETED"
)

// Cluster is a managed cluster known to the engine.
type Cluster struct {
	ID               string
	Name             string
	AutoscaleEnabled bool
	// DefaultZone is used when a matched policy carries no zone.
	DefaultZone string
	// DefaultVMType is used when a matched policy carries no VM type.
	DefaultVMType string
	CreatedAt     time.Time
}

// AutoscalerPolicy bounds the autoscaler-owned node count for one
// zone of a cluster. A policy with an empty Zone is the cluster's
// default policy and catches signals for zones no other policy names.
type AutoscalerPolicy struct {
	ID        string
	ClusterID string
	Name      string
	VMType    string
	Zone      string
	MinNodes  int
	MaxNodes  int
	CreatedAt time.Time
}

// Owns reports whether the policy owns the given node.
func (p *AutoscalerPolicy) Owns(n *Node) bool {
	return n.PolicyID != "" && n.PolicyID == p.ID
}

// Node is one tracked cluster node. PolicyID is empty for manually
// added nodes; it never changes after insert.
type Node struct {
	ID        string
	ClusterID string
	PolicyID  string
	VMType    string
	Zone      string
	// BackendID is the identifier the cluster manager backend assigned.
	BackendID string
	State     NodeState
	CreatedAt time.Time
}

// Manual reports whether the node was added outside the autoscaler.
func (n *Node) Manual() bool {
	return n.PolicyID == ""
}

// Snapshot is a consistent point-in-time copy of one cluster's state.
// The decision engine works exclusively on snapshots and never reads
// the stores mid-decision.
type Snapshot struct {
	Cluster  Cluster
	Policies []AutoscalerPolicy
	Nodes    []Node
}

// OwnedNodes returns the nodes owned by the given policy, excluding
// DELETED ones, ordered most-recently-created first.
func (s *Snapshot) OwnedNodes(policyID string) []Node {
	var owned []Node
	for _, n := range s.Nodes {
		if n.PolicyID == policyID && n.PolicyID != "" && n.State != NodeDeleted {
			owned = append(owned, n)
		}
	}
	sortNodesNewestFirst(owned)
	return owned
}

func sortNodesNewestFirst(nodes []Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodeNewer(nodes[j], nodes[j-1]); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

// nodeNewer orders by creation time descending, node ID descending as
// the tie-break so equal timestamps still order deterministically.
func nodeNewer(a, b Node) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

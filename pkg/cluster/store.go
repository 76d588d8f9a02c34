package cluster

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a cluster, policy or node does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName is returned when a policy name is already taken
	// within its cluster.
	ErrDuplicateName = errors.New("duplicate policy name")
	// ErrDuplicateZone is returned when a policy for the same zone
	// (or a second default policy) already exists within the cluster.
	ErrDuplicateZone = errors.New("duplicate policy zone")
	// ErrInvalidBounds is returned when a policy violates
	// 0 <= MinNodes <= MaxNodes.
	ErrInvalidBounds = errors.New("invalid policy bounds")
)

// IsNotFound checks if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the in-memory backing store for clusters, policies and
// nodes. All access goes through the mutex; readers that need a
// consistent view across the three maps use Snapshot.
type Store struct {
	mu       sync.RWMutex
	clusters map[string]*Cluster
	policies map[string]*AutoscalerPolicy
	nodes    map[string]*Node
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		clusters: make(map[string]*Cluster),
		policies: make(map[string]*AutoscalerPolicy),
		nodes:    make(map[string]*Node),
		now:      time.Now,
	}
}

// CreateCluster registers a cluster. A missing ID is generated.
func (s *Store) CreateCluster(c Cluster) (*Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, exists := s.clusters[c.ID]; exists {
		return nil, fmt.Errorf("cluster %s: already exists", c.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.clusters[c.ID] = &c
	out := c
	return &out, nil
}

// GetCluster returns a copy of the cluster.
func (s *Store) GetCluster(id string) (*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clusters[id]
	if !ok {
		return nil, fmt.Errorf("cluster %s: %w", id, ErrNotFound)
	}
	out := *c
	return &out, nil
}

// UpdateCluster replaces the mutable cluster fields. ID and CreatedAt
// are preserved.
func (s *Store) UpdateCluster(c Cluster) (*Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.clusters[c.ID]
	if !ok {
		return nil, fmt.Errorf("cluster %s: %w", c.ID, ErrNotFound)
	}
	cur.Name = c.Name
	cur.AutoscaleEnabled = c.AutoscaleEnabled
	cur.DefaultZone = c.DefaultZone
	cur.DefaultVMType = c.DefaultVMType
	out := *cur
	return &out, nil
}

// SetAutoscale flips the cluster-wide autoscale gate.
func (s *Store) SetAutoscale(clusterID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clusters[clusterID]
	if !ok {
		return fmt.Errorf("cluster %s: %w", clusterID, ErrNotFound)
	}
	c.AutoscaleEnabled = enabled
	return nil
}

// DeleteCluster removes the cluster and cascades to its policies.
// It returns the nodes that were still tracked so the caller can
// drive their teardown; the node records themselves are removed.
func (s *Store) DeleteCluster(id string) ([]Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clusters[id]; !ok {
		return nil, fmt.Errorf("cluster %s: %w", id, ErrNotFound)
	}
	delete(s.clusters, id)
	for pid, p := range s.policies {
		if p.ClusterID == id {
			delete(s.policies, pid)
		}
	}
	var orphaned []Node
	for nid, n := range s.nodes {
		if n.ClusterID == id {
			orphaned = append(orphaned, *n)
			delete(s.nodes, nid)
		}
	}
	sortNodesNewestFirst(orphaned)
	return orphaned, nil
}

// ListClusters returns copies of all clusters ordered by creation time.
func (s *Store) ListClusters() []Cluster {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CreatePolicy validates and stores a policy. Name and zone must be
// unique within the cluster; at most one default (unzoned) policy is
// allowed per cluster.
func (s *Store) CreatePolicy(p AutoscalerPolicy) (*AutoscalerPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clusters[p.ClusterID]; !ok {
		return nil, fmt.Errorf("cluster %s: %w", p.ClusterID, ErrNotFound)
	}
	if err := validateBounds(p.MinNodes, p.MaxNodes); err != nil {
		return nil, err
	}
	for _, existing := range s.policies {
		if existing.ClusterID != p.ClusterID {
			continue
		}
		if existing.Name == p.Name {
			return nil, fmt.Errorf("policy %q: %w", p.Name, ErrDuplicateName)
		}
		if existing.Zone == p.Zone {
			return nil, fmt.Errorf("policy %q zone %q: %w", p.Name, p.Zone, ErrDuplicateZone)
		}
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.policies[p.ID] = &p
	out := p
	return &out, nil
}

// GetPolicy returns a copy of the policy.
func (s *Store) GetPolicy(id string) (*AutoscalerPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	out := *p
	return &out, nil
}

// UpdatePolicy replaces the mutable policy fields. ClusterID, Zone and
// CreatedAt are immutable; bounds are revalidated.
func (s *Store) UpdatePolicy(p AutoscalerPolicy) (*AutoscalerPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.policies[p.ID]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", p.ID, ErrNotFound)
	}
	if err := validateBounds(p.MinNodes, p.MaxNodes); err != nil {
		return nil, err
	}
	for _, existing := range s.policies {
		if existing.ClusterID == cur.ClusterID && existing.ID != cur.ID && existing.Name == p.Name {
			return nil, fmt.Errorf("policy %q: %w", p.Name, ErrDuplicateName)
		}
	}
	cur.Name = p.Name
	cur.VMType = p.VMType
	cur.MinNodes = p.MinNodes
	cur.MaxNodes = p.MaxNodes
	out := *cur
	return &out, nil
}

// DeletePolicy removes the policy. Nodes it owned keep their PolicyID
// and become unreachable to the engine until they are torn down.
func (s *Store) DeletePolicy(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	delete(s.policies, id)
	return nil
}

// ListPolicies returns the cluster's policies ordered oldest first,
// which is the order zone resolution relies on for tie-breaking.
func (s *Store) ListPolicies(clusterID string) []AutoscalerPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPoliciesLocked(clusterID)
}

func (s *Store) listPoliciesLocked(clusterID string) []AutoscalerPolicy {
	var out []AutoscalerPolicy
	for _, p := range s.policies {
		if p.ClusterID == clusterID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// InsertNode stores a node record. A missing ID is generated.
func (s *Store) InsertNode(n Node) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clusters[n.ClusterID]; !ok {
		return nil, fmt.Errorf("cluster %s: %w", n.ClusterID, ErrNotFound)
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if _, exists := s.nodes[n.ID]; exists {
		return nil, fmt.Errorf("node %s: already exists", n.ID)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if n.State == "" {
		n.State = NodePending
	}
	s.nodes[n.ID] = &n
	out := n
	return &out, nil
}

// GetNode returns a copy of the node.
func (s *Store) GetNode(id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	out := *n
	return &out, nil
}

// SetNodeState transitions a node to the given state.
func (s *Store) SetNodeState(id string, state NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	n.State = state
	return nil
}

// SetNodeBackendID records the backend identifier for a node.
func (s *Store) SetNodeBackendID(id, backendID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	n.BackendID = backendID
	return nil
}

// RemoveNode drops the node record entirely.
func (s *Store) RemoveNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	delete(s.nodes, id)
	return nil
}

// ListNodes returns copies of the cluster's nodes, newest first.
func (s *Store) ListNodes(clusterID string) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listNodesLocked(clusterID)
}

func (s *Store) listNodesLocked(clusterID string) []Node {
	var out []Node
	for _, n := range s.nodes {
		if n.ClusterID == clusterID {
			out = append(out, *n)
		}
	}
	sortNodesNewestFirst(out)
	return out
}

// CountOwned counts non-DELETED nodes owned by the policy.
func (s *Store) CountOwned(policyID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.nodes {
		if n.PolicyID == policyID && policyID != "" && n.State != NodeDeleted {
			count++
		}
	}
	return count
}

// ListOwned returns non-DELETED nodes owned by the policy, newest first.
func (s *Store) ListOwned(policyID string) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Node
	for _, n := range s.nodes {
		if n.PolicyID == policyID && policyID != "" && n.State != NodeDeleted {
			out = append(out, *n)
		}
	}
	sortNodesNewestFirst(out)
	return out
}

// Snapshot takes a consistent copy of one cluster's state under a
// single read lock.
func (s *Store) Snapshot(clusterID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clusters[clusterID]
	if !ok {
		return nil, fmt.Errorf("cluster %s: %w", clusterID, ErrNotFound)
	}
	return &Snapshot{
		Cluster:  *c,
		Policies: s.listPoliciesLocked(clusterID),
		Nodes:    s.listNodesLocked(clusterID),
	}, nil
}

func validateBounds(min, max int) error {
	if min < 0 || max < min {
		return fmt.Errorf("min=%d max=%d: %w", min, max, ErrInvalidBounds)
	}
	return nil
}

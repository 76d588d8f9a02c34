package scaler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cloudve/clusterman/pkg/audit"
	"github.com/cloudve/clusterman/pkg/cluster"
	"github.com/cloudve/clusterman/pkg/metrics"
)

const (
	// DefaultLockWait bounds how long a signal waits for the
	// per-policy lock before it is rejected with ErrLockContended.
	DefaultLockWait = 5 * time.Second

	// maxResolveAttempts caps the re-lock loop when the resolved
	// policy changes between the unlocked and locked snapshots.
	maxResolveAttempts = 2
)

// StateStore is the slice of the cluster store the service reads and
// administers. Node-level writes go through the executor's Inventory.
type StateStore interface {
	Snapshot(clusterID string) (*cluster.Snapshot, error)
	GetNode(id string) (*cluster.Node, error)
	DeleteCluster(id string) ([]cluster.Node, error)
}

// Service serializes read-decide-execute cycles. Every signal runs
// under an exclusive lock keyed by (cluster, policy) so two racing
// signals for the same policy can never both pass the bounds check.
type Service struct {
	store    StateStore
	engine   *Engine
	executor *Executor
	locks    *KeyedLocks
	logger   *zap.Logger
	auditor  *audit.AuditLogger
	lockWait time.Duration
}

// NewService creates the scaling service.
func NewService(store StateStore, engine *Engine, executor *Executor, logger *zap.Logger, auditor *audit.AuditLogger, lockWait time.Duration) *Service {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	if auditor == nil {
		auditor = audit.GetGlobalAuditLogger()
	}
	return &Service{
		store:    store,
		engine:   engine,
		executor: executor,
		locks:    NewKeyedLocks(),
		logger:   logger,
		auditor:  auditor,
		lockWait: lockWait,
	}
}

// DecideAndExecute handles one scale signal end to end: resolve the
// target policy, take its lock, re-read the cluster state under the
// lock, decide, and execute. On lock contention the signal is dropped
// with ErrLockContended and the caller retries the whole thing.
func (s *Service) DecideAndExecute(ctx context.Context, clusterID string, sig Signal) (Result, error) {
	if err := sig.Validate(); err != nil {
		return Result{}, err
	}

	snap, err := s.store.Snapshot(clusterID)
	if err != nil {
		return Result{}, err
	}

	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		match := ResolvePolicy(snap, sig.Zone)
		key := lockKey(clusterID, match)

		release, err := s.acquire(ctx, clusterID, match, key)
		if err != nil {
			return Result{}, err
		}

		// Re-read under the lock; the world may have moved while we
		// waited.
		snap, err = s.store.Snapshot(clusterID)
		if err != nil {
			release()
			return Result{}, err
		}

		// If resolution now lands on a different policy (one was
		// created or deleted meanwhile), the lock we hold is for the
		// wrong policy; drop it and start over.
		locked := ResolvePolicy(snap, sig.Zone)
		if lockKey(clusterID, locked) != key {
			release()
			continue
		}

		result, err := s.decideAndExecuteLocked(ctx, snap, sig)
		release()
		return result, err
	}

	// Resolution kept shifting; treat it like contention so the
	// caller retries.
	metrics.LockContentionTotal.WithLabelValues(clusterID).Inc()
	return Result{}, ErrLockContended
}

func (s *Service) acquire(ctx context.Context, clusterID string, match Match, key string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	release, err := s.locks.Acquire(lockCtx, key)
	if err != nil {
		metrics.LockContentionTotal.WithLabelValues(clusterID).Inc()
		policyID := ""
		if match.Policy != nil {
			policyID = match.Policy.ID
		}
		s.auditor.LogLockTimedOut(ctx, clusterID, policyID)
		return nil, err
	}
	return release, nil
}

func (s *Service) decideAndExecuteLocked(ctx context.Context, snap *cluster.Snapshot, sig Signal) (Result, error) {
	decision := s.engine.Decide(snap, sig)
	metrics.ScaleDecisionsTotal.WithLabelValues(snap.Cluster.ID, string(decision.Action), string(decision.Reason)).Inc()

	result, err := s.executor.Execute(ctx, decision)
	execResult := "success"
	if err != nil {
		execResult = "error"
	}
	if decision.Action != ActionNone {
		metrics.ScaleExecutionsTotal.WithLabelValues(snap.Cluster.ID, string(decision.Action), execResult).Inc()
	}

	if err != nil {
		s.auditor.LogScaleFailed(ctx, snap.Cluster.ID, string(sig.Direction), err.Error())
		return result, err
	}

	s.auditor.LogScaleDecision(ctx, snap.Cluster.ID, string(sig.Direction), string(result.Action), string(result.Reason), result.Applied)
	s.syncPolicyGauges(snap.Cluster.ID)
	return result, nil
}

// lockKey builds the per-(cluster, policy) lock key. Signals that
// resolve to no policy still serialize per cluster.
func lockKey(clusterID string, match Match) string {
	if match.Policy == nil {
		return clusterID + "/none"
	}
	return clusterID + "/" + match.Policy.ID
}

// AddManualNode provisions a node outside any policy. It runs through
// the same executor sequencing but the record carries no PolicyID, so
// the engine never sees it.
func (s *Service) AddManualNode(ctx context.Context, clusterID, vmType, zone string) (Result, error) {
	snap, err := s.store.Snapshot(clusterID)
	if err != nil {
		return Result{}, err
	}
	if vmType == "" {
		vmType = snap.Cluster.DefaultVMType
	}
	if zone == "" {
		zone = snap.Cluster.DefaultZone
	}

	release, err := s.acquire(ctx, clusterID, Match{}, clusterID+"/manual")
	if err != nil {
		return Result{}, err
	}
	defer release()

	return s.executor.Execute(ctx, Decision{
		Action:    ActionCreate,
		Reason:    ReasonApplied,
		ClusterID: clusterID,
		VMType:    vmType,
		Zone:      zone,
	})
}

// RemoveNode tears down one node by ID, manual or owned. Owned nodes
// serialize against scale signals for their policy.
func (s *Service) RemoveNode(ctx context.Context, nodeID string) (Result, error) {
	node, err := s.store.GetNode(nodeID)
	if err != nil {
		return Result{}, err
	}

	key := node.ClusterID + "/manual"
	if node.PolicyID != "" {
		key = node.ClusterID + "/" + node.PolicyID
	}
	release, err := s.acquire(ctx, node.ClusterID, Match{}, key)
	if err != nil {
		return Result{}, err
	}
	defer release()

	// Re-read under the lock; a concurrent scale-down may have taken
	// this node already.
	node, err = s.store.GetNode(nodeID)
	if err != nil {
		return Result{}, err
	}

	result, err := s.executor.Execute(ctx, Decision{
		Action:    ActionDelete,
		Reason:    ReasonApplied,
		ClusterID: node.ClusterID,
		Node:      node,
	})
	if err == nil {
		s.syncPolicyGauges(node.ClusterID)
	}
	return result, err
}

// TeardownResult summarizes a cluster teardown cascade.
type TeardownResult struct {
	NodesTornDown int
	Failures      int
}

// TeardownCluster tears down every tracked node and then removes the
// cluster with its policies. Node failures do not stop the cascade;
// their backend instances are reported and the records are dropped
// with the cluster.
func (s *Service) TeardownCluster(ctx context.Context, clusterID string) (TeardownResult, error) {
	snap, err := s.store.Snapshot(clusterID)
	if err != nil {
		return TeardownResult{}, err
	}

	var res TeardownResult
	for i := range snap.Nodes {
		node := snap.Nodes[i]
		if node.State == cluster.NodeDeleted {
			continue
		}
		_, err := s.executor.Execute(ctx, Decision{
			Action:    ActionDelete,
			Reason:    ReasonApplied,
			ClusterID: clusterID,
			Node:      &node,
		})
		if err != nil {
			res.Failures++
			s.logger.Error("Teardown failed for node",
				zap.String("cluster", clusterID),
				zap.String("node", node.ID),
				zap.Error(err),
			)
			continue
		}
		res.NodesTornDown++
	}

	if _, err := s.store.DeleteCluster(clusterID); err != nil {
		return res, err
	}
	s.auditor.LogClusterTeardown(ctx, clusterID, res.NodesTornDown, res.Failures)
	return res, nil
}

// syncPolicyGauges refreshes the per-policy node gauges after an
// applied action. Best effort; the cluster may be gone.
func (s *Service) syncPolicyGauges(clusterID string) {
	snap, err := s.store.Snapshot(clusterID)
	if err != nil {
		return
	}
	clusterLabel := metrics.SanitizeLabel(clusterID)
	for i := range snap.Policies {
		p := &snap.Policies[i]
		policyLabel := metrics.SanitizeLabel(p.ID)
		metrics.PolicyOwnedNodes.WithLabelValues(clusterLabel, policyLabel).Set(float64(len(snap.OwnedNodes(p.ID))))
		metrics.PolicyMinNodes.WithLabelValues(clusterLabel, policyLabel).Set(float64(p.MinNodes))
		metrics.PolicyMaxNodes.WithLabelValues(clusterLabel, policyLabel).Set(float64(p.MaxNodes))
	}
}

package scaler

import (
	"go.uber.org/zap"

	"github.com/cloudve/clusterman/pkg/cluster"
	"github.com/cloudve/clusterman/pkg/logging"
)

// Engine turns a cluster snapshot and a signal into a decision. It
// performs no I/O and never mutates the snapshot, so the same inputs
// always yield the same decision.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a decision engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Decide evaluates one signal against the snapshot.
//
// The gate order is fixed: the cluster-wide autoscale switch first,
// then zone resolution, then the matched policy's bounds. Manual
// nodes (empty PolicyID) are invisible throughout: they are never
// counted against bounds and never selected for scale-down.
func (e *Engine) Decide(snap *cluster.Snapshot, sig Signal) Decision {
	if !snap.Cluster.AutoscaleEnabled {
		return e.none(snap, sig, ReasonAutoscaleDisabled, nil)
	}

	match := ResolvePolicy(snap, sig.Zone)
	if match.Kind == MatchNone {
		return e.none(snap, sig, ReasonNoMatchingPolicy, nil)
	}
	policy := match.Policy
	owned := snap.OwnedNodes(policy.ID)

	switch sig.Direction {
	case ScaleUp:
		if len(owned) >= policy.MaxNodes {
			logging.LogScaleUpDecision(e.logger, snap.Cluster.ID, policy.ID, sig.Zone,
				len(owned), policy.MaxNodes, string(ReasonAtMax))
			return e.none(snap, sig, ReasonAtMax, policy)
		}
		vmType, zone := e.provisionTarget(&snap.Cluster, policy)
		logging.LogScaleUpDecision(e.logger, snap.Cluster.ID, policy.ID, zone,
			len(owned), policy.MaxNodes, string(ReasonApplied))
		return Decision{
			Action:    ActionCreate,
			Reason:    ReasonApplied,
			ClusterID: snap.Cluster.ID,
			Policy:    policy,
			VMType:    vmType,
			Zone:      zone,
		}

	case ScaleDown:
		if len(owned) <= policy.MinNodes {
			logging.LogScaleDownDecision(e.logger, snap.Cluster.ID, policy.ID, sig.Zone,
				len(owned), policy.MinNodes, string(ReasonAtMin))
			return e.none(snap, sig, ReasonAtMin, policy)
		}
		// Owned nodes come back newest first; last in, first out.
		candidate := owned[0]
		logging.LogScaleDownDecision(e.logger, snap.Cluster.ID, policy.ID, sig.Zone,
			len(owned), policy.MinNodes, string(ReasonApplied))
		return Decision{
			Action:    ActionDelete,
			Reason:    ReasonApplied,
			ClusterID: snap.Cluster.ID,
			Policy:    policy,
			Node:      &candidate,
		}
	}

	// Signal validation happens at intake; an unknown direction that
	// slips through is a no-op rather than a panic.
	return e.none(snap, sig, ReasonNoMatchingPolicy, nil)
}

func (e *Engine) none(snap *cluster.Snapshot, sig Signal, reason Reason, policy *cluster.AutoscalerPolicy) Decision {
	e.logger.Debug("No scale action",
		zap.String("cluster", snap.Cluster.ID),
		zap.String("direction", string(sig.Direction)),
		zap.String("zone", sig.Zone),
		zap.String("reason", string(reason)),
	)
	return Decision{
		Action:    ActionNone,
		Reason:    reason,
		ClusterID: snap.Cluster.ID,
		Policy:    policy,
	}
}

// provisionTarget applies the cluster defaults for fields the policy
// leaves empty.
func (e *Engine) provisionTarget(c *cluster.Cluster, p *cluster.AutoscalerPolicy) (vmType, zone string) {
	vmType = p.VMType
	if vmType == "" {
		vmType = c.DefaultVMType
	}
	zone = p.Zone
	if zone == "" {
		zone = c.DefaultZone
	}
	return vmType, zone
}

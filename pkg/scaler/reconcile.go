package scaler

import (
	"context"

	"go.uber.org/zap"

	"github.com/cloudve/clusterman/pkg/audit"
	"github.com/cloudve/clusterman/pkg/cluster"
	"github.com/cloudve/clusterman/pkg/metrics"
)

// DiscrepancyKind classifies inventory drift.
type DiscrepancyKind string

const (
	// DriftUntrackedBackend is a backend node with no inventory record.
	DriftUntrackedBackend DiscrepancyKind = "untracked_backend"
	// DriftMissingBackend is an inventory record whose backend node
	// is gone.
	DriftMissingBackend DiscrepancyKind = "missing_backend"
)

// Discrepancy is one inventory-vs-backend mismatch.
type Discrepancy struct {
	Kind      DiscrepancyKind
	BackendID string
	// NodeID is set for missing_backend drift.
	NodeID string
}

// Auditor compares the node inventory with what the backend reports.
// It only observes; repairing drift is an operator decision.
type Auditor struct {
	store   StateStore
	gateway NodeLifecycleGateway
	logger  *zap.Logger
	auditor *audit.AuditLogger
}

// NewAuditor creates an inventory auditor.
func NewAuditor(store StateStore, gateway NodeLifecycleGateway, logger *zap.Logger, auditor *audit.AuditLogger) *Auditor {
	if auditor == nil {
		auditor = audit.GetGlobalAuditLogger()
	}
	return &Auditor{
		store:   store,
		gateway: gateway,
		logger:  logger,
		auditor: auditor,
	}
}

// Audit lists the backend's nodes and diffs them against the cluster's
// inventory. PENDING records are not reported as missing; the backend
// may not list a node until it registers.
func (a *Auditor) Audit(ctx context.Context, clusterID string) ([]Discrepancy, error) {
	snap, err := a.store.Snapshot(clusterID)
	if err != nil {
		return nil, err
	}

	backendNodes, err := a.gateway.List(ctx)
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues(string(OpList), "error").Inc()
		a.auditor.Log(ctx, &audit.AuditEvent{
			EventType: audit.EventInventoryAuditFailed,
			Message:   "Node inventory audit failed",
			Outcome:   "failure",
			Details:   map[string]interface{}{"cluster": clusterID, "reason": err.Error()},
		})
		return nil, NewGatewayError(OpList, "", err)
	}
	metrics.GatewayRequestsTotal.WithLabelValues(string(OpList), "success").Inc()

	backendSeen := make(map[string]bool, len(backendNodes))
	for _, bn := range backendNodes {
		backendSeen[bn.BackendID] = true
	}
	tracked := make(map[string]string, len(snap.Nodes))
	for _, n := range snap.Nodes {
		if n.BackendID != "" {
			tracked[n.BackendID] = n.ID
		}
	}

	var out []Discrepancy
	for _, bn := range backendNodes {
		if _, ok := tracked[bn.BackendID]; !ok {
			out = append(out, Discrepancy{Kind: DriftUntrackedBackend, BackendID: bn.BackendID})
		}
	}
	for _, n := range snap.Nodes {
		if n.State == cluster.NodePending || n.State == cluster.NodeDeleted {
			continue
		}
		if n.BackendID != "" && !backendSeen[n.BackendID] {
			out = append(out, Discrepancy{Kind: DriftMissingBackend, BackendID: n.BackendID, NodeID: n.ID})
		}
	}

	counts := map[DiscrepancyKind]int{}
	for _, d := range out {
		counts[d.Kind]++
	}
	clusterLabel := metrics.SanitizeLabel(clusterID)
	metrics.AuditDiscrepancies.WithLabelValues(clusterLabel, string(DriftUntrackedBackend)).Set(float64(counts[DriftUntrackedBackend]))
	metrics.AuditDiscrepancies.WithLabelValues(clusterLabel, string(DriftMissingBackend)).Set(float64(counts[DriftMissingBackend]))

	if len(out) > 0 {
		a.logger.Warn("Node inventory drift detected",
			zap.String("cluster", clusterID),
			zap.Int("untrackedBackend", counts[DriftUntrackedBackend]),
			zap.Int("missingBackend", counts[DriftMissingBackend]),
		)
	}
	a.auditor.LogInventoryAudit(ctx, clusterID, len(out))
	return out, nil
}

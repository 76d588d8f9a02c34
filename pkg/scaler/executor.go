package scaler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cloudve/clusterman/pkg/audit"
	"github.com/cloudve/clusterman/pkg/cluster"
	"github.com/cloudve/clusterman/pkg/logging"
	"github.com/cloudve/clusterman/pkg/metrics"
)

const (
	// DefaultProvisionTimeout bounds the gateway provision call.
	DefaultProvisionTimeout = 60 * time.Second
	// DefaultDrainTimeout bounds the best-effort drain call.
	DefaultDrainTimeout = 120 * time.Second
	// DefaultDeleteTimeout bounds the gateway delete call.
	DefaultDeleteTimeout = 30 * time.Second
)

// Inventory is the slice of the node store the executor writes to.
type Inventory interface {
	InsertNode(n cluster.Node) (*cluster.Node, error)
	GetNode(id string) (*cluster.Node, error)
	SetNodeState(id string, state cluster.NodeState) error
	RemoveNode(id string) error
}

// ExecutorConfig carries the per-operation gateway timeouts.
type ExecutorConfig struct {
	ProvisionTimeout time.Duration
	DrainTimeout     time.Duration
	DeleteTimeout    time.Duration
}

// DefaultExecutorConfig returns the default timeouts.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ProvisionTimeout: DefaultProvisionTimeout,
		DrainTimeout:     DefaultDrainTimeout,
		DeleteTimeout:    DefaultDeleteTimeout,
	}
}

// Result reports what the executor applied for one decision.
type Result struct {
	// Applied is true when a node was created or torn down.
	Applied bool
	Action  Action
	Reason  Reason
	// NodeID is the created or removed node, when Applied.
	NodeID string
}

// Executor applies decisions through the node lifecycle gateway and
// keeps the inventory in step with what the backend confirmed.
//
// Sequencing is strict: inventory rows appear only after the backend
// accepted a provision, and disappear only after the backend confirmed
// a delete. A failed delete leaves the node in DRAINING so a later
// signal or sweep can retry it.
type Executor struct {
	gateway   NodeLifecycleGateway
	inventory Inventory
	logger    *zap.Logger
	auditor   *audit.AuditLogger
	config    ExecutorConfig
}

// NewExecutor creates an executor. Zero timeouts in config fall back
// to the defaults.
func NewExecutor(gateway NodeLifecycleGateway, inventory Inventory, logger *zap.Logger, auditor *audit.AuditLogger, config ExecutorConfig) *Executor {
	if config.ProvisionTimeout <= 0 {
		config.ProvisionTimeout = DefaultProvisionTimeout
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if config.DeleteTimeout <= 0 {
		config.DeleteTimeout = DefaultDeleteTimeout
	}
	if auditor == nil {
		auditor = audit.GetGlobalAuditLogger()
	}
	return &Executor{
		gateway:   gateway,
		inventory: inventory,
		logger:    logger,
		auditor:   auditor,
		config:    config,
	}
}

// Execute applies one decision. None decisions return immediately
// with the engine's reason.
func (e *Executor) Execute(ctx context.Context, decision Decision) (Result, error) {
	switch decision.Action {
	case ActionCreate:
		return e.executeCreate(ctx, decision)
	case ActionDelete:
		return e.executeDelete(ctx, decision)
	default:
		return Result{Applied: false, Action: ActionNone, Reason: decision.Reason}, nil
	}
}

// executeCreate provisions a node and inserts the PENDING record.
// A provision failure, including a timeout, leaves no inventory row.
func (e *Executor) executeCreate(ctx context.Context, decision Decision) (Result, error) {
	policyID := ""
	if decision.Policy != nil {
		policyID = decision.Policy.ID
	}
	logging.LogNodeProvisioningStart(e.logger, decision.ClusterID, policyID, decision.VMType, decision.Zone)

	start := time.Now()
	provisionCtx, cancel := context.WithTimeout(ctx, e.config.ProvisionTimeout)
	defer cancel()

	backendID, err := e.gateway.Provision(provisionCtx, decision.VMType, decision.Zone)
	metrics.GatewayRequestDuration.WithLabelValues(string(OpProvision)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues(string(OpProvision), "error").Inc()
		logging.LogNodeProvisioningFailed(e.logger, decision.ClusterID, policyID, err)
		e.auditor.LogNodeProvisionFailed(ctx, policyID, decision.ClusterID, err.Error())
		return Result{Applied: false, Action: ActionCreate, Reason: decision.Reason},
			NewGatewayError(OpProvision, "", err)
	}
	metrics.GatewayRequestsTotal.WithLabelValues(string(OpProvision), "success").Inc()

	node, err := e.inventory.InsertNode(cluster.Node{
		ClusterID: decision.ClusterID,
		PolicyID:  policyID,
		VMType:    decision.VMType,
		Zone:      decision.Zone,
		BackendID: backendID,
		State:     cluster.NodePending,
	})
	if err != nil {
		// The backend holds a node we failed to record; the audit
		// sweep reports it as untracked until an operator intervenes.
		e.logger.Error("Provisioned node could not be recorded",
			zap.String("cluster", decision.ClusterID),
			zap.String("backendID", backendID),
			zap.Error(err),
		)
		return Result{Applied: false, Action: ActionCreate, Reason: decision.Reason}, err
	}

	logging.LogNodeProvisioningComplete(e.logger, node.ID, decision.ClusterID, policyID, time.Since(start).String())
	e.auditor.LogNodeProvisioned(ctx, node.ID, policyID, decision.ClusterID, backendID, time.Since(start))
	return Result{Applied: true, Action: ActionCreate, Reason: ReasonApplied, NodeID: node.ID}, nil
}

// executeDelete drains and deletes the candidate node. Drain is best
// effort; a delete failure, including a timeout, leaves the node in
// DRAINING with its record intact.
func (e *Executor) executeDelete(ctx context.Context, decision Decision) (Result, error) {
	node := decision.Node
	start := time.Now()
	logging.LogNodeTerminationStart(e.logger, node.ID, decision.ClusterID, node.PolicyID)

	if err := e.inventory.SetNodeState(node.ID, cluster.NodeDraining); err != nil {
		return Result{Applied: false, Action: ActionDelete, Reason: decision.Reason}, err
	}
	logging.LogStateTransition(e.logger, node.ID, decision.ClusterID, string(node.State), string(cluster.NodeDraining))

	drainCtx, cancelDrain := context.WithTimeout(ctx, e.config.DrainTimeout)
	err := e.gateway.Drain(drainCtx, node.BackendID)
	cancelDrain()
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues(string(OpDrain), "error").Inc()
		e.logger.Warn("Node drain failed, proceeding to delete",
			zap.String("node", node.ID),
			zap.String("backendID", node.BackendID),
			zap.Error(err),
		)
		e.auditor.LogNodeDrainFailed(ctx, node.ID, decision.ClusterID, err.Error())
	} else {
		metrics.GatewayRequestsTotal.WithLabelValues(string(OpDrain), "success").Inc()
	}

	deleteCtx, cancelDelete := context.WithTimeout(ctx, e.config.DeleteTimeout)
	defer cancelDelete()
	deleteStart := time.Now()
	err = e.gateway.Delete(deleteCtx, node.BackendID)
	metrics.GatewayRequestDuration.WithLabelValues(string(OpDelete)).Observe(time.Since(deleteStart).Seconds())
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues(string(OpDelete), "error").Inc()
		logging.LogNodeTerminationFailed(e.logger, node.ID, decision.ClusterID, node.PolicyID, err)
		e.auditor.LogNodeTerminateFailed(ctx, node.ID, decision.ClusterID, err.Error())
		return Result{Applied: false, Action: ActionDelete, Reason: decision.Reason},
			NewGatewayError(OpDelete, node.ID, err)
	}
	metrics.GatewayRequestsTotal.WithLabelValues(string(OpDelete), "success").Inc()

	if err := e.inventory.SetNodeState(node.ID, cluster.NodeDeleted); err != nil {
		return Result{Applied: false, Action: ActionDelete, Reason: decision.Reason}, err
	}
	if err := e.inventory.RemoveNode(node.ID); err != nil {
		return Result{Applied: false, Action: ActionDelete, Reason: decision.Reason}, err
	}

	logging.LogNodeTerminationComplete(e.logger, node.ID, decision.ClusterID, node.PolicyID, time.Since(start).String())
	e.auditor.LogNodeTerminated(ctx, node.ID, node.PolicyID, decision.ClusterID, node.BackendID)
	return Result{Applied: true, Action: ActionDelete, Reason: ReasonApplied, NodeID: node.ID}, nil
}

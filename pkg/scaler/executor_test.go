package scaler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cloudve/clusterman/pkg/audit"
	"github.com/cloudve/clusterman/pkg/cluster"
)

// fakeGateway is a scripted NodeLifecycleGateway for tests. Each op
// can be failed independently, and calls are recorded in order.
type fakeGateway struct {
	mu    sync.Mutex
	calls []string

	provisionErr error
	drainErr     error
	deleteErr    error
	listErr      error

	nextBackendID string
	backendNodes  []BackendNode
}

func (f *fakeGateway) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeGateway) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeGateway) Provision(ctx context.Context, vmType, zone string) (string, error) {
	f.record("provision")
	if f.provisionErr != nil {
		return "", f.provisionErr
	}
	if f.nextBackendID == "" {
		return "backend-1", nil
	}
	return f.nextBackendID, nil
}

func (f *fakeGateway) Drain(ctx context.Context, backendID string) error {
	f.record("drain " + backendID)
	return f.drainErr
}

func (f *fakeGateway) Delete(ctx context.Context, backendID string) error {
	f.record("delete " + backendID)
	return f.deleteErr
}

func (f *fakeGateway) List(ctx context.Context) ([]BackendNode, error) {
	f.record("list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.backendNodes, nil
}

func testAuditLogger(t *testing.T) *audit.AuditLogger {
	t.Helper()
	return audit.NewAuditLogger(&audit.AuditLoggerConfig{
		Enabled: true,
		Logger:  zaptest.NewLogger(t),
	})
}

func executorFixture(t *testing.T, gw *fakeGateway) (*Executor, *cluster.Store, *cluster.Cluster, *cluster.AutoscalerPolicy) {
	t.Helper()
	store := cluster.NewStore()
	c, err := store.CreateCluster(cluster.Cluster{Name: "prod", AutoscaleEnabled: true})
	require.NoError(t, err)
	p, err := store.CreatePolicy(cluster.AutoscalerPolicy{ClusterID: c.ID, Name: "default", MinNodes: 0, MaxNodes: 5})
	require.NoError(t, err)

	exec := NewExecutor(gw, store, zaptest.NewLogger(t), testAuditLogger(t), DefaultExecutorConfig())
	return exec, store, c, p
}

func TestExecute_NoneIsImmediate(t *testing.T) {
	gw := &fakeGateway{}
	exec, _, c, _ := executorFixture(t, gw)

	result, err := exec.Execute(context.Background(), Decision{
		Action:    ActionNone,
		Reason:    ReasonAtMax,
		ClusterID: c.ID,
	})
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, ReasonAtMax, result.Reason)
	assert.Empty(t, gw.Calls())
}

func TestExecuteCreate_InsertsPendingRecord(t *testing.T) {
	gw := &fakeGateway{nextBackendID: "backend-42"}
	exec, store, c, p := executorFixture(t, gw)

	result, err := exec.Execute(context.Background(), Decision{
		Action:    ActionCreate,
		Reason:    ReasonApplied,
		ClusterID: c.ID,
		Policy:    p,
		VMType:    "m5.large",
		Zone:      "us-east-1c",
	})
	require.NoError(t, err)
	assert.True(t, result.Applied)
	require.NotEmpty(t, result.NodeID)

	node, err := store.GetNode(result.NodeID)
	require.NoError(t, err)
	assert.Equal(t, cluster.NodePending, node.State)
	assert.Equal(t, "backend-42", node.BackendID)
	assert.Equal(t, p.ID, node.PolicyID)
	assert.Equal(t, "m5.large", node.VMType)
}

func TestExecuteCreate_ProvisionFailureLeavesNoRecord(t *testing.T) {
	gw := &fakeGateway{provisionErr: errors.New("insufficient capacity")}
	exec, store, c, p := executorFixture(t, gw)

	result, err := exec.Execute(context.Background(), Decision{
		Action:    ActionCreate,
		Reason:    ReasonApplied,
		ClusterID: c.ID,
		Policy:    p,
	})
	require.Error(t, err)
	assert.False(t, result.Applied)

	gwErr, ok := IsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, OpProvision, gwErr.Op)

	assert.Empty(t, store.ListNodes(c.ID))
}

func TestExecuteDelete_DrainsThenDeletesThenRemoves(t *testing.T) {
	gw := &fakeGateway{}
	exec, store, c, p := executorFixture(t, gw)

	node, err := store.InsertNode(cluster.Node{
		ClusterID: c.ID,
		PolicyID:  p.ID,
		BackendID: "backend-7",
		State:     cluster.NodeActive,
	})
	require.NoError(t, err)

	result, err := exec.Execute(context.Background(), Decision{
		Action:    ActionDelete,
		Reason:    ReasonApplied,
		ClusterID: c.ID,
		Node:      node,
	})
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, node.ID, result.NodeID)

	assert.Equal(t, []string{"drain backend-7", "delete backend-7"}, gw.Calls())

	_, err = store.GetNode(node.ID)
	assert.True(t, cluster.IsNotFound(err))
}

func TestExecuteDelete_DrainFailureStillDeletes(t *testing.T) {
	gw := &fakeGateway{drainErr: errors.New("drain timed out")}
	exec, store, c, p := executorFixture(t, gw)

	node, err := store.InsertNode(cluster.Node{
		ClusterID: c.ID,
		PolicyID:  p.ID,
		BackendID: "backend-7",
		State:     cluster.NodeActive,
	})
	require.NoError(t, err)

	result, err := exec.Execute(context.Background(), Decision{
		Action:    ActionDelete,
		Reason:    ReasonApplied,
		ClusterID: c.ID,
		Node:      node,
	})
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, []string{"drain backend-7", "delete backend-7"}, gw.Calls())
}

func TestExecuteDelete_DeleteFailureLeavesDraining(t *testing.T) {
	gw := &fakeGateway{deleteErr: errors.New("backend unavailable")}
	exec, store, c, p := executorFixture(t, gw)

	node, err := store.InsertNode(cluster.Node{
		ClusterID: c.ID,
		PolicyID:  p.ID,
		BackendID: "backend-7",
		State:     cluster.NodeActive,
	})
	require.NoError(t, err)

	result, err := exec.Execute(context.Background(), Decision{
		Action:    ActionDelete,
		Reason:    ReasonApplied,
		ClusterID: c.ID,
		Node:      node,
	})
	require.Error(t, err)
	assert.False(t, result.Applied)

	gwErr, ok := IsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, OpDelete, gwErr.Op)
	assert.Equal(t, node.ID, gwErr.NodeID)

	// The record survives in DRAINING so a later signal can retry.
	got, err := store.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, cluster.NodeDraining, got.State)
}

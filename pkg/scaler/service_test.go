package scaler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cloudve/clusterman/pkg/cluster"
)

func serviceFixture(t *testing.T, gw *fakeGateway) (*Service, *cluster.Store, *cluster.Cluster) {
	t.Helper()
	store := cluster.NewStore()
	c, err := store.CreateCluster(cluster.Cluster{
		Name:             "prod",
		AutoscaleEnabled: true,
		DefaultVMType:    "m5.large",
		DefaultZone:      "us-east-1c",
	})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	auditLog := testAuditLogger(t)
	engine := NewEngine(logger)
	exec := NewExecutor(gw, store, logger, auditLog, DefaultExecutorConfig())
	svc := NewService(store, engine, exec, logger, auditLog, 200*time.Millisecond)
	return svc, store, c
}

func TestDecideAndExecute_ScaleUpCreatesNode(t *testing.T) {
	gw := &fakeGateway{nextBackendID: "backend-1"}
	svc, store, c := serviceFixture(t, gw)

	p, err := store.CreatePolicy(cluster.AutoscalerPolicy{ClusterID: c.ID, Name: "default", MaxNodes: 2})
	require.NoError(t, err)

	result, err := svc.DecideAndExecute(context.Background(), c.ID, Signal{Direction: ScaleUp})
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, ActionCreate, result.Action)

	assert.Equal(t, 1, store.CountOwned(p.ID))
}

func TestDecideAndExecute_NoOpReasonsPassThrough(t *testing.T) {
	gw := &fakeGateway{}
	svc, store, c := serviceFixture(t, gw)

	// No policies: every signal is a no-op.
	result, err := svc.DecideAndExecute(context.Background(), c.ID, Signal{Direction: ScaleUp})
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, ReasonNoMatchingPolicy, result.Reason)

	require.NoError(t, store.SetAutoscale(c.ID, false))
	result, err = svc.DecideAndExecute(context.Background(), c.ID, Signal{Direction: ScaleUp})
	require.NoError(t, err)
	assert.Equal(t, ReasonAutoscaleDisabled, result.Reason)

	assert.Empty(t, gw.Calls())
}

func TestDecideAndExecute_InvalidSignal(t *testing.T) {
	gw := &fakeGateway{}
	svc, _, c := serviceFixture(t, gw)

	_, err := svc.DecideAndExecute(context.Background(), c.ID, Signal{Direction: "sideways"})
	assert.Error(t, err)
}

func TestDecideAndExecute_UnknownCluster(t *testing.T) {
	gw := &fakeGateway{}
	svc, _, _ := serviceFixture(t, gw)

	_, err := svc.DecideAndExecute(context.Background(), "missing", Signal{Direction: ScaleUp})
	assert.True(t, cluster.IsNotFound(err))
}

func TestDecideAndExecute_LockContention(t *testing.T) {
	gw := &fakeGateway{}
	svc, store, c := serviceFixture(t, gw)

	p, err := store.CreatePolicy(cluster.AutoscalerPolicy{ClusterID: c.ID, Name: "default", MaxNodes: 2})
	require.NoError(t, err)

	// Hold the policy lock so the signal cannot get in.
	release, err := svc.locks.Acquire(context.Background(), c.ID+"/"+p.ID)
	require.NoError(t, err)
	defer release()

	_, err = svc.DecideAndExecute(context.Background(), c.ID, Signal{Direction: ScaleUp})
	assert.True(t, IsLockContended(err))
}

func TestDecideAndExecute_SequentialSignalsRespectBounds(t *testing.T) {
	gw := &fakeGateway{}
	svc, store, c := serviceFixture(t, gw)

	p, err := store.CreatePolicy(cluster.AutoscalerPolicy{ClusterID: c.ID, Name: "default", MinNodes: 1, MaxNodes: 2})
	require.NoError(t, err)

	ctx := context.Background()

	// Three ups against max 2: the third is capped.
	for i := 0; i < 2; i++ {
		result, err := svc.DecideAndExecute(ctx, c.ID, Signal{Direction: ScaleUp})
		require.NoError(t, err)
		assert.True(t, result.Applied)
	}
	result, err := svc.DecideAndExecute(ctx, c.ID, Signal{Direction: ScaleUp})
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, ReasonAtMax, result.Reason)
	assert.Equal(t, 2, store.CountOwned(p.ID))

	// Two downs against min 1: the second is floored.
	result, err = svc.DecideAndExecute(ctx, c.ID, Signal{Direction: ScaleDown})
	require.NoError(t, err)
	assert.True(t, result.Applied)

	result, err = svc.DecideAndExecute(ctx, c.ID, Signal{Direction: ScaleDown})
	require.NoError(t, err)
	assert.Equal(t, ReasonAtMin, result.Reason)
	assert.Equal(t, 1, store.CountOwned(p.ID))
}

func TestAddManualNode_InvisibleToEngine(t *testing.T) {
	gw := &fakeGateway{}
	svc, store, c := serviceFixture(t, gw)

	_, err := store.CreatePolicy(cluster.AutoscalerPolicy{ClusterID: c.ID, Name: "default", MinNodes: 0, MaxNodes: 2})
	require.NoError(t, err)

	result, err := svc.AddManualNode(context.Background(), c.ID, "", "")
	require.NoError(t, err)
	require.True(t, result.Applied)

	node, err := store.GetNode(result.NodeID)
	require.NoError(t, err)
	assert.True(t, node.Manual())
	// Cluster defaults fill the empty request fields.
	assert.Equal(t, "m5.large", node.VMType)
	assert.Equal(t, "us-east-1c", node.Zone)

	// The manual node never satisfies the policy floor or ceiling.
	down, err := svc.DecideAndExecute(context.Background(), c.ID, Signal{Direction: ScaleDown})
	require.NoError(t, err)
	assert.Equal(t, ReasonAtMin, down.Reason)

	_, err = store.GetNode(node.ID)
	assert.NoError(t, err, "manual node must survive scale-down")
}

func TestRemoveNode_TearsDownManualNode(t *testing.T) {
	gw := &fakeGateway{}
	svc, store, c := serviceFixture(t, gw)

	added, err := svc.AddManualNode(context.Background(), c.ID, "c5.xlarge", "us-east-1d")
	require.NoError(t, err)

	result, err := svc.RemoveNode(context.Background(), added.NodeID)
	require.NoError(t, err)
	assert.True(t, result.Applied)

	_, err = store.GetNode(added.NodeID)
	assert.True(t, cluster.IsNotFound(err))
}

func TestRemoveNode_UnknownNode(t *testing.T) {
	gw := &fakeGateway{}
	svc, _, _ := serviceFixture(t, gw)

	_, err := svc.RemoveNode(context.Background(), "missing")
	assert.True(t, cluster.IsNotFound(err))
}

func TestTeardownCluster(t *testing.T) {
	gw := &fakeGateway{}
	svc, store, c := serviceFixture(t, gw)

	p, err := store.CreatePolicy(cluster.AutoscalerPolicy{ClusterID: c.ID, Name: "default", MaxNodes: 5})
	require.NoError(t, err)
	_, err = store.InsertNode(cluster.Node{ClusterID: c.ID, PolicyID: p.ID, BackendID: "b1", State: cluster.NodeActive})
	require.NoError(t, err)
	_, err = store.InsertNode(cluster.Node{ClusterID: c.ID, BackendID: "b2", State: cluster.NodeActive})
	require.NoError(t, err)

	res, err := svc.TeardownCluster(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NodesTornDown)
	assert.Equal(t, 0, res.Failures)

	_, err = store.GetCluster(c.ID)
	assert.True(t, cluster.IsNotFound(err))
	_, err = store.GetPolicy(p.ID)
	assert.True(t, cluster.IsNotFound(err))
}

func TestTeardownCluster_CountsFailuresAndStillRemovesCluster(t *testing.T) {
	gw := &fakeGateway{deleteErr: assertErr{}}
	svc, store, c := serviceFixture(t, gw)

	_, err := store.InsertNode(cluster.Node{ClusterID: c.ID, BackendID: "b1", State: cluster.NodeActive})
	require.NoError(t, err)

	res, err := svc.TeardownCluster(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.NodesTornDown)
	assert.Equal(t, 1, res.Failures)

	_, err = store.GetCluster(c.ID)
	assert.True(t, cluster.IsNotFound(err))
}

// assertErr is a trivial error value for scripting gateway failures.
type assertErr struct{}

func (assertErr) Error() string { return "backend rejected the call" }

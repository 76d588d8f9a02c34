package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cloudve/clusterman/pkg/audit"
	"github.com/cloudve/clusterman/pkg/cluster"
	"github.com/cloudve/clusterman/pkg/scaler"
)

// stubGateway backs the API tests; every op succeeds unless scripted
// otherwise.
type stubGateway struct {
	provisionErr error
	deleteErr    error
	backendNodes []scaler.BackendNode
}

func (s *stubGateway) Provision(ctx context.Context, vmType, zone string) (string, error) {
	if s.provisionErr != nil {
		return "", s.provisionErr
	}
	return "backend-" + uuid.New().String()[:8], nil
}

func (s *stubGateway) Drain(ctx context.Context, backendID string) error { return nil }

func (s *stubGateway) Delete(ctx context.Context, backendID string) error { return s.deleteErr }

func (s *stubGateway) List(ctx context.Context) ([]scaler.BackendNode, error) {
	return s.backendNodes, nil
}

type apiFixture struct {
	store   *cluster.Store
	handler http.Handler
}

func newAPIFixture(t *testing.T, gw scaler.NodeLifecycleGateway) *apiFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	auditLog := audit.NewAuditLogger(&audit.AuditLoggerConfig{Enabled: true, Logger: logger})

	store := cluster.NewStore()
	engine := scaler.NewEngine(logger)
	exec := scaler.NewExecutor(gw, store, logger, auditLog, scaler.DefaultExecutorConfig())
	svc := scaler.NewService(store, engine, exec, logger, auditLog, 200*time.Millisecond)
	auditor := scaler.NewAuditor(store, gw, logger, auditLog)

	srv, err := NewServer(ServerConfig{
		Addr:     ":0",
		Logger:   logger,
		Store:    store,
		Service:  svc,
		Auditor:  auditor,
		AuditLog: auditLog,
	})
	require.NoError(t, err)

	return &apiFixture{store: store, handler: srv.Handler()}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createCluster(t *testing.T) clusterPayload {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/clusters", clusterPayload{
		Name:             "prod",
		AutoscaleEnabled: true,
		DefaultVMType:    "m5.large",
		DefaultZone:      "us-east-1c",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created clusterPayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.NotEmpty(t, created.ID)
	return created
}

func (f *apiFixture) createPolicy(t *testing.T, clusterID string, p policyPayload) policyPayload {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/clusters/"+clusterID+"/autoscalers", p)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created policyPayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	return created
}

func scaleBody(zone string) map[string]interface{} {
	body := map[string]interface{}{
		"receiver": "clusterman",
		"status":   "firing",
	}
	if zone != "" {
		body["commonLabels"] = map[string]string{ZoneLabel: zone}
	}
	return body
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", nil).Code)
}

func TestClusterCRUD(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})

	created := f.createCluster(t)

	rec := f.do(t, http.MethodGet, "/api/v1/clusters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []clusterPayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	require.Len(t, listed, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/clusters/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	created.AutoscaleEnabled = false
	rec = f.do(t, http.MethodPut, "/api/v1/clusters/"+created.ID, created)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated clusterPayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.False(t, updated.AutoscaleEnabled)

	rec = f.do(t, http.MethodDelete, "/api/v1/clusters/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/clusters/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCluster_RequiresName(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})

	rec := f.do(t, http.MethodPost, "/api/v1/clusters", clusterPayload{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPolicyCRUD(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})
	c := f.createCluster(t)

	p := f.createPolicy(t, c.ID, policyPayload{Name: "east", Zone: "us-east-1c", MinNodes: 1, MaxNodes: 3})
	assert.NotEmpty(t, p.ID)

	// Zone duplicates are rejected at create.
	rec := f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/autoscalers",
		policyPayload{Name: "east-again", Zone: "us-east-1c", MaxNodes: 2})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/clusters/"+c.ID+"/autoscalers/"+p.ID,
		policyPayload{Name: "east", MinNodes: 0, MaxNodes: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated policyPayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, 5, updated.MaxNodes)

	rec = f.do(t, http.MethodDelete, "/api/v1/clusters/"+c.ID+"/autoscalers/"+p.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/clusters/"+c.ID+"/autoscalers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []policyPayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	assert.Empty(t, listed)
}

func TestPolicyCreate_RejectsInvalidBounds(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})
	c := f.createCluster(t)

	rec := f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/autoscalers",
		policyPayload{Name: "bad", MinNodes: 3, MaxNodes: 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestScaleUp_AppliedReturns201(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})
	c := f.createCluster(t)
	f.createPolicy(t, c.ID, policyPayload{Name: "default", MaxNodes: 2})

	rec := f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/scaleup", scaleBody(""))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp scaleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Applied)
	assert.Equal(t, "create", resp.Action)
	assert.NotEmpty(t, resp.NodeID)
}

func TestScaleDown_AppliedReturns204(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})
	c := f.createCluster(t)
	f.createPolicy(t, c.ID, policyPayload{Name: "default", MinNodes: 0, MaxNodes: 2})

	rec := f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/scaleup", scaleBody(""))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/scaledown", scaleBody(""))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestScale_NoOpReturns200WithReason(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})
	c := f.createCluster(t)

	tests := []struct {
		name       string
		setup      func(t *testing.T)
		path       string
		wantReason string
	}{
		{
			name:       "no matching policy",
			setup:      func(t *testing.T) {},
			path:       "/api/v1/clusters/" + c.ID + "/scaleup",
			wantReason: "no_matching_policy",
		},
		{
			name: "at min",
			setup: func(t *testing.T) {
				f.createPolicy(t, c.ID, policyPayload{Name: "default", MinNodes: 0, MaxNodes: 2})
			},
			path:       "/api/v1/clusters/" + c.ID + "/scaledown",
			wantReason: "at_min",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup(t)
			rec := f.do(t, http.MethodPost, tt.path, scaleBody(""))
			require.Equal(t, http.StatusOK, rec.Code)

			var resp scaleResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.False(t, resp.Applied)
			assert.Equal(t, tt.wantReason, resp.Reason)
		})
	}
}

func TestScale_AutoscaleDisabled(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})
	c := f.createCluster(t)
	f.createPolicy(t, c.ID, policyPayload{Name: "default", MaxNodes: 2})

	c.AutoscaleEnabled = false
	rec := f.do(t, http.MethodPut, "/api/v1/clusters/"+c.ID, c)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/scaleup", scaleBody(""))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scaleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "autoscale_disabled", resp.Reason)
}

func TestScale_ZonedSignalRouting(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})
	c := f.createCluster(t)
	f.createPolicy(t, c.ID, policyPayload{Name: "east", Zone: "us-east-1d", MaxNodes: 1})

	// The zone in the alert labels routes to the zoned policy.
	rec := f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/scaleup", scaleBody("us-east-1d"))
	require.Equal(t, http.StatusCreated, rec.Code)

	// A second zoned up is capped by that policy's max.
	rec = f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/scaleup", scaleBody("us-east-1d"))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp scaleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "at_max", resp.Reason)

	// An unmatched zone with no default policy is a no-op.
	rec = f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/scaleup", scaleBody("eu-west-1a"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "no_matching_policy", resp.Reason)
}

func TestScale_UnknownClusterReturns404(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})

	rec := f.do(t, http.MethodPost, "/api/v1/clusters/missing/scaleup", scaleBody(""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScale_GatewayFailureReturns502(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{provisionErr: errors.New("insufficient capacity")})
	c := f.createCluster(t)
	f.createPolicy(t, c.ID, policyPayload{Name: "default", MaxNodes: 2})

	rec := f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/scaleup", scaleBody(""))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestScale_EmptyBodyIsUnzonedSignal(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})
	c := f.createCluster(t)
	f.createPolicy(t, c.ID, policyPayload{Name: "default", MaxNodes: 1})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clusters/"+c.ID+"/scaleup", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestManualNodes(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})
	c := f.createCluster(t)
	f.createPolicy(t, c.ID, policyPayload{Name: "default", MinNodes: 0, MaxNodes: 2})

	rec := f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/nodes", manualNodeRequest{})
	require.Equal(t, http.StatusCreated, rec.Code)

	var node nodePayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&node))
	assert.Empty(t, node.PolicyID)
	// Cluster defaults apply to manual nodes too.
	assert.Equal(t, "m5.large", node.VMType)

	// The manual node does not move the policy off its floor.
	rec = f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/scaledown", scaleBody(""))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp scaleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "at_min", resp.Reason)

	rec = f.do(t, http.MethodDelete, "/api/v1/clusters/"+c.ID+"/nodes/"+node.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/clusters/"+c.ID+"/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []nodePayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&nodes))
	assert.Empty(t, nodes)
}

func TestAuditEndpoint(t *testing.T) {
	gw := &stubGateway{backendNodes: []scaler.BackendNode{{BackendID: "b-rogue"}}}
	f := newAPIFixture(t, gw)
	c := f.createCluster(t)

	rec := f.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []struct {
		Kind      string `json:"kind"`
		BackendID string `json:"backend_id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "untracked_backend", out[0].Kind)
	assert.Equal(t, "b-rogue", out[0].BackendID)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})
	c := f.createCluster(t)

	assert.Equal(t, http.StatusMethodNotAllowed,
		f.do(t, http.MethodGet, "/api/v1/clusters/"+c.ID+"/scaleup", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed,
		f.do(t, http.MethodPatch, "/api/v1/clusters", nil).Code)
}

func TestUnknownSubpath(t *testing.T) {
	f := newAPIFixture(t, &stubGateway{})
	c := f.createCluster(t)

	assert.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodGet, "/api/v1/clusters/"+c.ID+"/unknown", nil).Code)
}

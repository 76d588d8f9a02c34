package webhook

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloudve/clusterman/pkg/audit"
	"github.com/cloudve/clusterman/pkg/cluster"
	"github.com/cloudve/clusterman/pkg/logging"
	"github.com/cloudve/clusterman/pkg/metrics"
	"github.com/cloudve/clusterman/pkg/scaler"
)

// clusterPayload is the wire form of a cluster.
type clusterPayload struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name"`
	AutoscaleEnabled bool   `json:"autoscale_enabled"`
	DefaultZone      string `json:"default_zone,omitempty"`
	DefaultVMType    string `json:"default_vm_type,omitempty"`
}

// policyPayload is the wire form of an autoscaler policy.
type policyPayload struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	VMType   string `json:"vm_type,omitempty"`
	Zone     string `json:"zone,omitempty"`
	MinNodes int    `json:"min_nodes"`
	MaxNodes int    `json:"max_nodes"`
}

// nodePayload is the wire form of a tracked node.
type nodePayload struct {
	ID        string    `json:"id"`
	PolicyID  string    `json:"policy_id,omitempty"`
	VMType    string    `json:"vm_type,omitempty"`
	Zone      string    `json:"zone,omitempty"`
	BackendID string    `json:"backend_id,omitempty"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// manualNodeRequest asks for a manually added node.
type manualNodeRequest struct {
	VMType string `json:"vm_type,omitempty"`
	Zone   string `json:"zone,omitempty"`
}

type errorPayload struct {
	Error string `json:"error"`
}

type scaleResponse struct {
	Applied bool   `json:"applied"`
	Action  string `json:"action"`
	Reason  string `json:"reason,omitempty"`
	NodeID  string `json:"node_id,omitempty"`
}

func clusterToPayload(c *cluster.Cluster) clusterPayload {
	return clusterPayload{
		ID:               c.ID,
		Name:             c.Name,
		AutoscaleEnabled: c.AutoscaleEnabled,
		DefaultZone:      c.DefaultZone,
		DefaultVMType:    c.DefaultVMType,
	}
}

func policyToPayload(p *cluster.AutoscalerPolicy) policyPayload {
	return policyPayload{
		ID:       p.ID,
		Name:     p.Name,
		VMType:   p.VMType,
		Zone:     p.Zone,
		MinNodes: p.MinNodes,
		MaxNodes: p.MaxNodes,
	}
}

func nodeToPayload(n *cluster.Node) nodePayload {
	return nodePayload{
		ID:        n.ID,
		PolicyID:  n.PolicyID,
		VMType:    n.VMType,
		Zone:      n.Zone,
		BackendID: n.BackendID,
		State:     string(n.State),
		CreatedAt: n.CreatedAt,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Error("failed to write response", zap.Error(err))
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorPayload{Error: msg})
}

// writeStoreError maps store errors to HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case cluster.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	}
}

// handleClusters serves the cluster collection.
func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		clusters := s.store.ListClusters()
		out := make([]clusterPayload, 0, len(clusters))
		for i := range clusters {
			out = append(out, clusterToPayload(&clusters[i]))
		}
		s.writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var payload clusterPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if payload.Name == "" {
			s.writeError(w, http.StatusUnprocessableEntity, "cluster name is required")
			return
		}
		created, err := s.store.CreateCluster(cluster.Cluster{
			Name:             payload.Name,
			AutoscaleEnabled: payload.AutoscaleEnabled,
			DefaultZone:      payload.DefaultZone,
			DefaultVMType:    payload.DefaultVMType,
		})
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.auditLog.Log(r.Context(), &audit.AuditEvent{
			EventType: audit.EventClusterCreated,
			Message:   "Cluster registered",
			Resource:  &audit.ResourceInfo{Kind: "Cluster", Name: created.ID, ClusterID: created.ID},
		})
		s.writeJSON(w, http.StatusCreated, clusterToPayload(created))

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleClusterSubtree routes everything under /api/v1/clusters/.
func (s *Server) handleClusterSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, clustersPrefix+"/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	clusterID := segments[0]

	switch {
	case len(segments) == 1:
		s.handleCluster(w, r, clusterID)
	case len(segments) == 2 && (segments[1] == "scaleup" || segments[1] == "scaledown"):
		s.handleScale(w, r, clusterID, segments[1])
	case segments[1] == "autoscalers":
		s.handlePolicies(w, r, clusterID, segments[2:])
	case segments[1] == "nodes":
		s.handleNodes(w, r, clusterID, segments[2:])
	case len(segments) == 2 && segments[1] == "audit":
		s.handleAudit(w, r, clusterID)
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

// handleCluster serves one cluster: get, update, teardown.
func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request, clusterID string) {
	switch r.Method {
	case http.MethodGet:
		c, err := s.store.GetCluster(clusterID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, clusterToPayload(c))

	case http.MethodPut:
		var payload clusterPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		updated, err := s.store.UpdateCluster(cluster.Cluster{
			ID:               clusterID,
			Name:             payload.Name,
			AutoscaleEnabled: payload.AutoscaleEnabled,
			DefaultZone:      payload.DefaultZone,
			DefaultVMType:    payload.DefaultVMType,
		})
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.auditLog.Log(r.Context(), &audit.AuditEvent{
			EventType: audit.EventClusterUpdated,
			Message:   "Cluster updated",
			Resource:  &audit.ResourceInfo{Kind: "Cluster", Name: clusterID, ClusterID: clusterID},
		})
		s.writeJSON(w, http.StatusOK, clusterToPayload(updated))

	case http.MethodDelete:
		ctx := logging.WithRequestID(r.Context())
		res, err := s.service.TeardownCluster(ctx, clusterID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		if res.Failures > 0 {
			s.logger.Warn("Cluster teardown completed with failures",
				zap.String("cluster", clusterID),
				zap.Int("failures", res.Failures),
			)
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleScale is the Alertmanager intake: one POST is one signal.
// 201 means a node was created, 204 means one was torn down, 200
// means the signal was a no-op and the body says why.
func (s *Server) handleScale(w http.ResponseWriter, r *http.Request, clusterID, direction string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := logging.WithRequestID(r.Context())

	notification, err := ParseNotification(r.Body)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues(direction, "400").Inc()
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sig := scaler.Signal{Zone: notification.Zone()}
	switch direction {
	case "scaleup":
		sig.Direction = scaler.ScaleUp
	case "scaledown":
		sig.Direction = scaler.ScaleDown
	}

	result, err := s.service.DecideAndExecute(ctx, clusterID, sig)
	switch {
	case err == nil:
	case scaler.IsLockContended(err):
		// Alertmanager retries on 5xx; the whole signal is safe to
		// replay.
		metrics.WebhookRequestsTotal.WithLabelValues(direction, "503").Inc()
		s.writeError(w, http.StatusServiceUnavailable, "scale lock contended, retry")
		return
	case cluster.IsNotFound(err):
		metrics.WebhookRequestsTotal.WithLabelValues(direction, "404").Inc()
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	default:
		if _, ok := scaler.IsGatewayError(err); ok {
			metrics.WebhookRequestsTotal.WithLabelValues(direction, "502").Inc()
			s.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		metrics.WebhookRequestsTotal.WithLabelValues(direction, "500").Inc()
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch {
	case result.Applied && result.Action == scaler.ActionCreate:
		metrics.WebhookRequestsTotal.WithLabelValues(direction, "201").Inc()
		s.writeJSON(w, http.StatusCreated, scaleResponse{
			Applied: true,
			Action:  string(result.Action),
			NodeID:  result.NodeID,
		})
	case result.Applied && result.Action == scaler.ActionDelete:
		metrics.WebhookRequestsTotal.WithLabelValues(direction, "204").Inc()
		w.WriteHeader(http.StatusNoContent)
	default:
		metrics.WebhookRequestsTotal.WithLabelValues(direction, "200").Inc()
		s.writeJSON(w, http.StatusOK, scaleResponse{
			Applied: false,
			Action:  string(scaler.ActionNone),
			Reason:  string(result.Reason),
		})
	}
}

// handlePolicies serves the autoscaler policy collection and items.
func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request, clusterID string, rest []string) {
	switch {
	case len(rest) == 0:
		switch r.Method {
		case http.MethodGet:
			if _, err := s.store.GetCluster(clusterID); err != nil {
				s.writeStoreError(w, err)
				return
			}
			policies := s.store.ListPolicies(clusterID)
			out := make([]policyPayload, 0, len(policies))
			for i := range policies {
				out = append(out, policyToPayload(&policies[i]))
			}
			s.writeJSON(w, http.StatusOK, out)

		case http.MethodPost:
			var payload policyPayload
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			created, err := s.store.CreatePolicy(cluster.AutoscalerPolicy{
				ClusterID: clusterID,
				Name:      payload.Name,
				VMType:    payload.VMType,
				Zone:      payload.Zone,
				MinNodes:  payload.MinNodes,
				MaxNodes:  payload.MaxNodes,
			})
			if err != nil {
				s.writeStoreError(w, err)
				return
			}
			s.auditLog.LogPolicyChange(r.Context(), audit.EventPolicyCreated, created.ID, clusterID, map[string]interface{}{
				"zone": created.Zone, "min": created.MinNodes, "max": created.MaxNodes,
			})
			s.writeJSON(w, http.StatusCreated, policyToPayload(created))

		default:
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}

	case len(rest) == 1:
		policyID := rest[0]
		switch r.Method {
		case http.MethodGet:
			p, err := s.store.GetPolicy(policyID)
			if err != nil {
				s.writeStoreError(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, policyToPayload(p))

		case http.MethodPut:
			var payload policyPayload
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			updated, err := s.store.UpdatePolicy(cluster.AutoscalerPolicy{
				ID:       policyID,
				Name:     payload.Name,
				VMType:   payload.VMType,
				MinNodes: payload.MinNodes,
				MaxNodes: payload.MaxNodes,
			})
			if err != nil {
				s.writeStoreError(w, err)
				return
			}
			s.auditLog.LogPolicyChange(r.Context(), audit.EventPolicyUpdated, policyID, clusterID, map[string]interface{}{
				"min": updated.MinNodes, "max": updated.MaxNodes,
			})
			s.writeJSON(w, http.StatusOK, policyToPayload(updated))

		case http.MethodDelete:
			if err := s.store.DeletePolicy(policyID); err != nil {
				s.writeStoreError(w, err)
				return
			}
			s.auditLog.LogPolicyChange(r.Context(), audit.EventPolicyDeleted, policyID, clusterID, nil)
			w.WriteHeader(http.StatusNoContent)

		default:
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}

	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

// handleNodes serves the node collection and items.
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request, clusterID string, rest []string) {
	switch {
	case len(rest) == 0:
		switch r.Method {
		case http.MethodGet:
			if _, err := s.store.GetCluster(clusterID); err != nil {
				s.writeStoreError(w, err)
				return
			}
			nodes := s.store.ListNodes(clusterID)
			out := make([]nodePayload, 0, len(nodes))
			for i := range nodes {
				out = append(out, nodeToPayload(&nodes[i]))
			}
			s.writeJSON(w, http.StatusOK, out)

		case http.MethodPost:
			var payload manualNodeRequest
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			ctx := logging.WithRequestID(r.Context())
			result, err := s.service.AddManualNode(ctx, clusterID, payload.VMType, payload.Zone)
			if err != nil {
				s.writeScaleExecError(w, err)
				return
			}
			node, err := s.store.GetNode(result.NodeID)
			if err != nil {
				s.writeStoreError(w, err)
				return
			}
			s.writeJSON(w, http.StatusCreated, nodeToPayload(node))

		default:
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}

	case len(rest) == 1:
		nodeID := rest[0]
		switch r.Method {
		case http.MethodGet:
			node, err := s.store.GetNode(nodeID)
			if err != nil {
				s.writeStoreError(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, nodeToPayload(node))

		case http.MethodDelete:
			ctx := logging.WithRequestID(r.Context())
			if _, err := s.service.RemoveNode(ctx, nodeID); err != nil {
				s.writeScaleExecError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}

	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

// handleAudit runs the inventory-vs-backend sweep for one cluster.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request, clusterID string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.auditor == nil {
		s.writeError(w, http.StatusNotImplemented, "audit not configured")
		return
	}

	ctx := logging.WithRequestID(r.Context())
	discrepancies, err := s.auditor.Audit(ctx, clusterID)
	if err != nil {
		s.writeScaleExecError(w, err)
		return
	}

	type discrepancyPayload struct {
		Kind      string `json:"kind"`
		BackendID string `json:"backend_id"`
		NodeID    string `json:"node_id,omitempty"`
	}
	out := make([]discrepancyPayload, 0, len(discrepancies))
	for _, d := range discrepancies {
		out = append(out, discrepancyPayload{
			Kind:      string(d.Kind),
			BackendID: d.BackendID,
			NodeID:    d.NodeID,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// writeScaleExecError maps service errors to HTTP statuses.
func (s *Server) writeScaleExecError(w http.ResponseWriter, err error) {
	switch {
	case scaler.IsLockContended(err):
		s.writeError(w, http.StatusServiceUnavailable, "scale lock contended, retry")
	case cluster.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		if _, ok := scaler.IsGatewayError(err); ok {
			s.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

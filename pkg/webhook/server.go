// Package webhook exposes the scale-signal intake and the
// administrative HTTP API of the autoscaling engine.
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cloudve/clusterman/pkg/audit"
	"github.com/cloudve/clusterman/pkg/cluster"
	"github.com/cloudve/clusterman/pkg/scaler"
)

const clustersPrefix = "/api/v1/clusters"

// Server represents the HTTP API server
type Server struct {
	server   *http.Server
	logger   *zap.Logger
	store    *cluster.Store
	service  *scaler.Service
	auditor  *scaler.Auditor
	auditLog *audit.AuditLogger
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	// Addr is the listen address, host:port
	Addr string

	// Logger is the logger instance
	Logger *zap.Logger

	// Store is the cluster state store
	Store *cluster.Store

	// Service handles scale signals and node operations
	Service *scaler.Service

	// Auditor runs inventory-vs-backend sweeps
	Auditor *scaler.Auditor

	// AuditLog records configuration changes
	AuditLog *audit.AuditLogger
}

// NewServer creates a new API server
func NewServer(config ServerConfig) (*Server, error) {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.Service == nil {
		return nil, fmt.Errorf("service is required")
	}
	if config.AuditLog == nil {
		config.AuditLog = audit.GetGlobalAuditLogger()
	}

	ws := &Server{
		logger:   config.Logger,
		store:    config.Store,
		service:  config.Service,
		auditor:  config.Auditor,
		auditLog: config.AuditLog,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(clustersPrefix, ws.handleClusters)
	mux.HandleFunc(clustersPrefix+"/", ws.handleClusterSubtree)
	mux.HandleFunc("/healthz", ws.handleHealthz)
	mux.HandleFunc("/readyz", ws.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	ws.server = &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return ws, nil
}

// Start starts the server and blocks until the context is cancelled
// or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server", zap.String("addr", s.server.Addr))
	s.auditLog.Log(ctx, &audit.AuditEvent{
		EventType: audit.EventServerStarted,
		Message:   "API server started",
		Details:   map[string]interface{}{"addr": s.server.Addr},
	})

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		s.auditLog.Log(context.Background(), &audit.AuditEvent{
			EventType: audit.EventServerStopped,
			Message:   "API server stopped",
		})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the configured HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// handleHealthz handles liveness probe requests
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleReadyz handles readiness probe requests
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

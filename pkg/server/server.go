// Package server wires the store, engine, executor, Rancher gateway
// and HTTP API into one runnable process.
package server

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cloudve/clusterman/pkg/audit"
	"github.com/cloudve/clusterman/pkg/cluster"
	"github.com/cloudve/clusterman/pkg/logging"
	"github.com/cloudve/clusterman/pkg/metrics"
	"github.com/cloudve/clusterman/pkg/rancher"
	"github.com/cloudve/clusterman/pkg/rancher/client"
	"github.com/cloudve/clusterman/pkg/scaler"
	"github.com/cloudve/clusterman/pkg/webhook"
)

// Server owns the fully wired autoscaling engine.
type Server struct {
	options *Options
	logger  *zap.Logger

	store         *cluster.Store
	rancherClient *client.Client
	api           *webhook.Server
}

// New builds the full dependency graph from the given options. The
// options must already be completed and validated.
func New(opts *Options) (*Server, error) {
	logger, err := logging.NewLogger(opts.DevelopmentMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	auditLog := audit.NewAuditLogger(&audit.AuditLoggerConfig{
		Enabled: opts.AuditEnabled,
		Logger:  logger,
	})
	audit.SetGlobalAuditLogger(auditLog)

	rancherClient, err := client.NewClient(opts.RancherURL, opts.RancherToken, &client.ClientOptions{
		ClusterID:         opts.RancherClusterID,
		RateLimit:         opts.RateLimit,
		Logger:            logger,
		InsecureAllowHTTP: opts.InsecureAllowHTTP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Rancher client: %w", err)
	}

	gateway := rancher.NewGateway(rancherClient, logger, opts.HostnamePrefix)
	store := cluster.NewStore()
	engine := scaler.NewEngine(logger)
	executor := scaler.NewExecutor(gateway, store, logger, auditLog, scaler.ExecutorConfig{
		ProvisionTimeout: opts.ProvisionTimeout,
		DrainTimeout:     opts.DrainTimeout,
		DeleteTimeout:    opts.DeleteTimeout,
	})
	service := scaler.NewService(store, engine, executor, logger, auditLog, opts.LockWait)
	auditor := scaler.NewAuditor(store, gateway, logger, auditLog)

	api, err := webhook.NewServer(webhook.ServerConfig{
		Addr:     opts.ListenAddr,
		Logger:   logger,
		Store:    store,
		Service:  service,
		Auditor:  auditor,
		AuditLog: auditLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}

	metrics.RegisterMetrics(prometheus.DefaultRegisterer)

	return &Server{
		options:       opts,
		logger:        logger,
		store:         store,
		rancherClient: rancherClient,
		api:           api,
	}, nil
}

// Logger returns the process logger.
func (s *Server) Logger() *zap.Logger {
	return s.logger
}

// Store returns the cluster state store.
func (s *Server) Store() *cluster.Store {
	return s.store
}

// Run starts the API server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting autoscaling server",
		zap.String("addr", s.options.ListenAddr),
		zap.String("rancherURL", s.rancherClient.GetBaseURL()),
	)

	err := s.api.Start(ctx)

	if cerr := s.rancherClient.Close(); cerr != nil {
		s.logger.Warn("failed to close Rancher client", zap.Error(cerr))
	}
	return err
}

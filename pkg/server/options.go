package server

import (
	"fmt"
	"time"
)

// Options holds configuration options for the autoscaling server
type Options struct {
	// ListenAddr is the address the API server binds to
	ListenAddr string

	// RancherURL is the base URL of the Rancher API
	RancherURL string

	// RancherToken is the Rancher API bearer token.
	// Can also be set via the CLUSTERMAN_RANCHER_TOKEN env var
	RancherToken string

	// RancherClusterID scopes node operations to one Rancher cluster
	RancherClusterID string

	// HostnamePrefix prefixes generated worker hostnames
	HostnamePrefix string

	// RateLimit is the Rancher API request budget per minute
	RateLimit int

	// ProvisionTimeout bounds a single node launch call
	ProvisionTimeout time.Duration

	// DrainTimeout bounds a single node drain call
	DrainTimeout time.Duration

	// DeleteTimeout bounds a single node delete call
	DeleteTimeout time.Duration

	// LockWait bounds how long a scale signal waits for the
	// per-policy lock before giving up
	LockWait time.Duration

	// LogLevel is the log verbosity level (debug, info, warn, error)
	LogLevel string

	// LogFormat is the log format (json, console)
	LogFormat string

	// DevelopmentMode enables development mode with more verbose logging
	DevelopmentMode bool

	// AuditEnabled toggles audit event logging
	AuditEnabled bool

	// InsecureAllowHTTP permits a plain-HTTP Rancher URL. Tests only.
	InsecureAllowHTTP bool
}

// NewDefaultOptions returns Options with default values
func NewDefaultOptions() *Options {
	return &Options{
		ListenAddr:       ":8080",
		RancherURL:       "",
		RancherToken:     "",
		RancherClusterID: "",
		HostnamePrefix:   "clusterman-worker",
		RateLimit:        100,
		ProvisionTimeout: 60 * time.Second,
		DrainTimeout:     120 * time.Second,
		DeleteTimeout:    30 * time.Second,
		LockWait:         5 * time.Second,
		LogLevel:         "info",
		LogFormat:        "json",
		DevelopmentMode:  false,
		AuditEnabled:     true,
	}
}

// Validate validates the options and returns an error if any option is invalid
func (o *Options) Validate() error {
	if o.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}

	if o.RancherURL == "" {
		return fmt.Errorf("rancher URL cannot be empty")
	}

	if o.RancherToken == "" {
		return fmt.Errorf("rancher token cannot be empty")
	}

	if o.RateLimit <= 0 {
		return fmt.Errorf("rate limit must be greater than zero")
	}

	if o.ProvisionTimeout <= 0 {
		return fmt.Errorf("provision timeout must be greater than zero")
	}

	if o.DrainTimeout <= 0 {
		return fmt.Errorf("drain timeout must be greater than zero")
	}

	if o.DeleteTimeout <= 0 {
		return fmt.Errorf("delete timeout must be greater than zero")
	}

	if o.LockWait <= 0 {
		return fmt.Errorf("lock wait must be greater than zero")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[o.LogLevel] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", o.LogLevel)
	}

	// Validate log format
	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[o.LogFormat] {
		return fmt.Errorf("invalid log format '%s', must be one of: json, console", o.LogFormat)
	}

	return nil
}

// Complete fills in any fields not set that are required to have valid data
func (o *Options) Complete() error {
	defaults := NewDefaultOptions()

	if o.ListenAddr == "" {
		o.ListenAddr = defaults.ListenAddr
	}

	if o.HostnamePrefix == "" {
		o.HostnamePrefix = defaults.HostnamePrefix
	}

	if o.RateLimit == 0 {
		o.RateLimit = defaults.RateLimit
	}

	if o.ProvisionTimeout == 0 {
		o.ProvisionTimeout = defaults.ProvisionTimeout
	}

	if o.DrainTimeout == 0 {
		o.DrainTimeout = defaults.DrainTimeout
	}

	if o.DeleteTimeout == 0 {
		o.DeleteTimeout = defaults.DeleteTimeout
	}

	if o.LockWait == 0 {
		o.LockWait = defaults.LockWait
	}

	if o.LogLevel == "" {
		o.LogLevel = defaults.LogLevel
	}

	if o.LogFormat == "" {
		o.LogFormat = defaults.LogFormat
	}

	return nil
}

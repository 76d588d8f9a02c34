// Package client implements the HTTP client for the Rancher v3 API
// the autoscaling engine drives node lifecycle through. It carries
// client-side rate limiting, a circuit breaker and bounded response
// reads so a misbehaving backend cannot take the engine down with it.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cloudve/clusterman/pkg/logging"
	"github.com/cloudve/clusterman/pkg/metrics"
)

const (
	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per minute)
	DefaultRateLimit = 100

	// MaxResponseBodySize is the maximum size of HTTP response bodies (10MB)
	// This prevents unbounded reads from a malicious or broken backend
	MaxResponseBodySize = 10 * 1024 * 1024

	// NodesEndpoint is the Rancher nodes collection path
	NodesEndpoint = "/v3/nodes"

	// RegistrationTokenEndpoint is the cluster registration token path
	RegistrationTokenEndpoint = "/v3/clusterregistrationtokens"

	// DrainAction is the query action that drains a node
	DrainAction = "drain"
)

// Client represents a Rancher API client
type Client struct {
	httpClient     *http.Client
	rateLimiter    *rate.Limiter
	circuitBreaker *CircuitBreaker
	baseURL        string
	token          string
	clusterID      string
	userAgent      string
	logger         *zap.Logger
	mu             sync.RWMutex
}

// ClientOptions represents options for creating a new Client
type ClientOptions struct {
	// ClusterID scopes node operations to one Rancher cluster
	ClusterID string

	// HTTPClient is a custom HTTP client to use (optional)
	HTTPClient *http.Client

	// Timeout is the HTTP client timeout
	Timeout time.Duration

	// RateLimit is the maximum number of requests per minute
	RateLimit int

	// UserAgent is the user agent string to use in requests
	UserAgent string

	// Logger is the logger to use (optional, defaults to no-op logger)
	Logger *zap.Logger

	// CircuitBreakerConfig configures the circuit breaker
	// If nil, DefaultCircuitBreakerConfig() is used
	CircuitBreakerConfig *CircuitBreakerConfig

	// InsecureAllowHTTP permits plain http base URLs, for tests only
	InsecureAllowHTTP bool
}

// NewClient creates a new Rancher API client with a bearer token.
func NewClient(baseURL, token string, opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = &ClientOptions{}
	}

	if token == "" {
		return nil, NewConfigError("token", "API token cannot be empty")
	}

	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, NewConfigError("api_url", "API URL cannot be empty")
	}

	// Enforce HTTPS so the bearer token never crosses the wire in the
	// clear. Tests against httptest servers opt out explicitly.
	if !strings.HasPrefix(baseURL, "https://") && !opts.InsecureAllowHTTP {
		return nil, NewConfigError("api_url", fmt.Sprintf("API URL must use HTTPS, got: %s", baseURL))
	}

	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "clusterman/1.0"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
					CipherSuites: []uint16{
						tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
						tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
						tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
						tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
					},
					PreferServerCipherSuites: true,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	// Convert requests per minute to requests per second
	rps := float64(opts.RateLimit) / 60.0
	rateLimiter := rate.NewLimiter(rate.Limit(rps), opts.RateLimit)

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cbConfig := DefaultCircuitBreakerConfig()
	if opts.CircuitBreakerConfig != nil {
		cbConfig = *opts.CircuitBreakerConfig
	}
	circuitBreaker := NewCircuitBreaker(cbConfig, logger.Named("circuit-breaker"))

	return &Client{
		httpClient:     httpClient,
		rateLimiter:    rateLimiter,
		circuitBreaker: circuitBreaker,
		baseURL:        baseURL,
		token:          token,
		clusterID:      opts.ClusterID,
		userAgent:      opts.UserAgent,
		logger:         logger.Named("rancher-client"),
	}, nil
}

// doRequest performs an HTTP request with authentication, rate
// limiting and circuit breaker protection
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	startTime := time.Now()
	requestID := logging.GetRequestID(ctx)
	logger := logging.WithRequestIDField(ctx, c.logger)

	logging.LogAPICall(logger, method, path, requestID)

	// Wait for rate limiter and record metrics
	rateLimitStart := time.Now()
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}
	rateLimitWait := time.Since(rateLimitStart)
	metrics.APIRateLimitWaitDuration.WithLabelValues(method).Observe(rateLimitWait.Seconds())

	// If we waited more than 10ms, we were rate limited
	if rateLimitWait > 10*time.Millisecond {
		metrics.APIRateLimitedTotal.WithLabelValues(method).Inc()
	}

	requestURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.mu.RLock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	c.mu.RUnlock()

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	var resp *http.Response
	cbErr := c.circuitBreaker.Call(func() error {
		var err error
		resp, err = c.httpClient.Do(req)
		return err
	})
	duration := time.Since(startTime)

	if cbErr != nil {
		if cbErr == ErrCircuitOpen {
			metrics.RecordAPIError(method, "circuit_open")
			metrics.RecordAPIRequest(method, "error", duration)
			logging.LogAPIError(logger, method, path, 0, cbErr, requestID)
			return nil, fmt.Errorf("circuit breaker is open: %w", cbErr)
		}
		metrics.RecordAPIError(method, "request_failed")
		metrics.RecordAPIRequest(method, "error", duration)
		logging.LogAPIError(logger, method, path, 0, cbErr, requestID)
		return nil, fmt.Errorf("failed to perform request: %w", cbErr)
	}

	logging.LogAPIResponse(logger, method, path, resp.StatusCode, duration.String(), requestID)

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()

		status := fmt.Sprintf("%d", resp.StatusCode)
		metrics.RecordAPIRequest(method, status, duration)

		var errorType string
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			errorType = "unauthorized"
		case resp.StatusCode == http.StatusForbidden:
			errorType = "forbidden"
		case resp.StatusCode == http.StatusNotFound:
			errorType = "not_found"
		case resp.StatusCode == http.StatusTooManyRequests:
			errorType = "rate_limited"
		case resp.StatusCode >= 500:
			errorType = "server_error"
		default:
			errorType = "client_error"
		}
		metrics.RecordAPIError(method, errorType)

		// Try to parse the Rancher error envelope, bounded
		var errResp ErrorResponse
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodySize))
		respRequestID := resp.Header.Get("X-Api-Request-Id")
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Message != "" {
			apiErr := NewAPIErrorWithRequestID(resp.StatusCode, errResp.Code, errResp.Message, respRequestID)
			logging.LogAPIError(logger, method, path, resp.StatusCode, apiErr, requestID)
			return nil, apiErr
		}

		apiErr := NewAPIErrorWithRequestID(resp.StatusCode, http.StatusText(resp.StatusCode), string(bodyBytes), respRequestID)
		logging.LogAPIError(logger, method, path, resp.StatusCode, apiErr, requestID)
		return nil, apiErr
	}

	status := fmt.Sprintf("%d", resp.StatusCode)
	metrics.RecordAPIRequest(method, status, duration)

	return resp, nil
}

// get performs a GET request
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result != nil {
		limitedReader := io.LimitReader(resp.Body, MaxResponseBodySize)
		if err := json.NewDecoder(limitedReader).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// post performs a POST request
func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	resp, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result != nil {
		limitedReader := io.LimitReader(resp.Body, MaxResponseBodySize)
		if err := json.NewDecoder(limitedReader).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// delete performs a DELETE request
func (c *Client) delete(ctx context.Context, path string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// ListNodes retrieves the nodes of the configured cluster. Use
// IsNotFound to distinguish a missing cluster from transport errors.
func (c *Client) ListNodes(ctx context.Context) ([]Node, error) {
	path := NodesEndpoint
	if c.clusterID != "" {
		path += "?clusterId=" + url.QueryEscape(c.clusterID)
	}

	var collection NodeCollection
	if err := c.get(ctx, path, &collection); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	return collection.Data, nil
}

// GetNode retrieves one node by its Rancher ID.
func (c *Client) GetNode(ctx context.Context, nodeID string) (*Node, error) {
	if nodeID == "" {
		return nil, NewConfigError("node_id", "Node ID is required")
	}

	var node Node
	path := NodesEndpoint + "/" + url.PathEscape(nodeID)
	if err := c.get(ctx, path, &node); err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", nodeID, err)
	}

	return &node, nil
}

// LaunchNode asks Rancher to bring up a worker node and returns the
// node the API created. The node registers asynchronously; its State
// starts out as "registering".
func (c *Client) LaunchNode(ctx context.Context, req LaunchNodeRequest) (*Node, error) {
	if req.RequestedHostname == "" {
		return nil, NewConfigError("requested_hostname", "Requested hostname is required")
	}
	if req.ClusterID == "" {
		req.ClusterID = c.clusterID
	}
	if req.ClusterID == "" {
		return nil, NewConfigError("cluster_id", "Cluster ID is required")
	}
	req.Worker = true

	var node Node
	if err := c.post(ctx, NodesEndpoint, req, &node); err != nil {
		return nil, fmt.Errorf("failed to launch node '%s': %w", req.RequestedHostname, err)
	}

	return &node, nil
}

// DrainNode triggers the drain action on a node. Rancher evicts the
// workloads in the background.
func (c *Client) DrainNode(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		return NewConfigError("node_id", "Node ID is required")
	}

	path := NodesEndpoint + "/" + url.PathEscape(nodeID) + "?action=" + DrainAction
	if err := c.post(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("failed to drain node %s: %w", nodeID, err)
	}

	return nil
}

// DeleteNode removes a node. A 404 counts as success so the operation
// stays idempotent when the backend already dropped the node.
func (c *Client) DeleteNode(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		return NewConfigError("node_id", "Node ID is required")
	}

	path := NodesEndpoint + "/" + url.PathEscape(nodeID)
	err := c.delete(ctx, path)
	if err != nil && IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete node %s: %w", nodeID, err)
	}

	return nil
}

// GetRegistrationToken fetches the cluster registration token used to
// join new nodes.
func (c *Client) GetRegistrationToken(ctx context.Context) (*RegistrationToken, error) {
	if c.clusterID == "" {
		return nil, NewConfigError("cluster_id", "Cluster ID is required")
	}

	path := RegistrationTokenEndpoint + "?clusterId=" + url.QueryEscape(c.clusterID)
	var collection RegistrationTokenCollection
	if err := c.get(ctx, path, &collection); err != nil {
		return nil, fmt.Errorf("failed to get registration token: %w", err)
	}

	if len(collection.Data) > 0 {
		token := collection.Data[0]
		return &token, nil
	}

	// No token yet; create one
	var token RegistrationToken
	req := RegistrationToken{ClusterID: c.clusterID}
	if err := c.post(ctx, RegistrationTokenEndpoint, req, &token); err != nil {
		return nil, fmt.Errorf("failed to create registration token: %w", err)
	}

	return &token, nil
}

// GetBaseURL returns the configured base URL
func (c *Client) GetBaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// UpdateToken replaces the bearer token, for rotation.
func (c *Client) UpdateToken(token string) error {
	if token == "" {
		return NewConfigError("token", "Token cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.logger.Info("API token updated")
	return nil
}

// GetCircuitBreakerStats returns the current circuit breaker
// statistics for monitoring.
func (c *Client) GetCircuitBreakerStats() CircuitBreakerStats {
	if c.circuitBreaker == nil {
		return CircuitBreakerStats{}
	}
	return c.circuitBreaker.GetStats()
}

// Close cleans up client resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	_ = c.logger.Sync()
	return nil
}

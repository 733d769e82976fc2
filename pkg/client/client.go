package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Client talks to a servisr daemon's control API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // optional; defaults to slog.Default()
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification entirely
}

// TLSClientConfig selects how the client verifies the daemon.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // pinned CA certificate file, e.g. the generated tls_ca.crt
	ClientCert string // client certificate for mutual TLS
	ClientKey  string
	ServerName string // expected server name when it differs from the URL host
	SkipVerify bool
}

// DefaultConfig returns plain-HTTP defaults for a local daemon.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:9001/api",
		Timeout: 10 * time.Second,
	}
}

// DefaultTLSConfig returns HTTPS defaults with full verification.
func DefaultTLSConfig() Config {
	return Config{
		BaseURL: "https://127.0.0.1:9001/api",
		Timeout: 10 * time.Second,
		TLS: &TLSClientConfig{
			Enabled: true,
		},
	}
}

// InsecureConfig returns HTTPS defaults that skip certificate verification.
func InsecureConfig() Config {
	return Config{
		BaseURL:  "https://127.0.0.1:9001/api",
		Timeout:  10 * time.Second,
		Insecure: true,
	}
}

// New creates an API client for a servisr daemon.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:9001/api"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		logger:  cfg.Logger,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newTransport(cfg),
		},
	}
}

// newTransport wires the TLS settings into an HTTP transport. A TLS config
// that fails to load is logged and the transport keeps default verification.
func newTransport(cfg Config) *http.Transport {
	t := &http.Transport{}
	if cfg.Insecure || (cfg.TLS != nil && cfg.TLS.Enabled) {
		tc, err := clientTLS(cfg)
		if err != nil {
			cfg.Logger.Error("TLS setup failed", "error", err)
		} else {
			t.TLSClientConfig = tc
		}
	}
	return t
}

func clientTLS(cfg Config) (*tls.Config, error) {
	if cfg.Insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil // #nosec G402
	}
	tc := &tls.Config{}
	t := cfg.TLS
	if t == nil {
		return tc, nil
	}
	if t.SkipVerify {
		tc.InsecureSkipVerify = true
	}
	tc.ServerName = t.ServerName
	if t.CACert != "" {
		pool, err := caPool(t.CACert)
		if err != nil {
			return nil, err
		}
		tc.RootCAs = pool
	}
	if t.ClientCert != "" && t.ClientKey != "" {
		pair, err := tls.LoadX509KeyPair(t.ClientCert, t.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{pair}
	}
	return tc, nil
}

// caPool builds a cert pool holding only the pinned CA.
func caPool(path string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	return pool, nil
}

// IsReachable reports whether a daemon answers on the configured URL.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	_ = resp.Body.Close()
	// A 404 means some other server answered, not the control API.
	return resp.StatusCode != http.StatusNotFound
}

// Status fetches the current supervisor snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.getJSON(ctx, "GET", c.baseURL+"/status", &st)
	return st, err
}

// Health runs a health probe. With force the daemon bypasses its cache.
func (c *Client) Health(ctx context.Context, force bool) (Health, error) {
	url := c.baseURL + "/health"
	if force {
		url += "?force=1"
	}
	var h Health
	err := c.getJSON(ctx, "GET", url, &h)
	return h, err
}

// Evidence returns the connection evidence for the current process instance.
func (c *Client) Evidence(ctx context.Context) (Evidence, error) {
	var ev Evidence
	err := c.getJSON(ctx, "GET", c.baseURL+"/evidence", &ev)
	return ev, err
}

// Artifact returns the located server JAR. A daemon with no locatable JAR
// yields an API error.
func (c *Client) Artifact(ctx context.Context) (Artifact, error) {
	var art Artifact
	err := c.getJSON(ctx, "GET", c.baseURL+"/artifact", &art)
	return art, err
}

// Start launches the managed server and waits until it is ready.
func (c *Client) Start(ctx context.Context) error {
	return c.doRequest(ctx, "POST", c.baseURL+"/start")
}

// StartValidated launches with a full environment validation pass. The
// returned result carries the discovery report even when the start failed.
func (c *Client) StartValidated(ctx context.Context) (StartResult, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/start?validate=1", nil)
	if err != nil {
		return StartResult{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", req.URL.String())
		return StartResult{}, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result StartResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return StartResult{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("API error: %s", result.Error)
	}
	return result, nil
}

// Stop performs an orderly shutdown of the managed server.
func (c *Client) Stop(ctx context.Context) error {
	return c.doRequest(ctx, "POST", c.baseURL+"/stop")
}

// Restart stops and relaunches the managed server.
func (c *Client) Restart(ctx context.Context) error {
	return c.doRequest(ctx, "POST", c.baseURL+"/restart")
}

// Connect ensures the managed server is running and ready.
func (c *Client) Connect(ctx context.Context) error {
	return c.doRequest(ctx, "POST", c.baseURL+"/connect")
}

// Disconnect shuts the managed server down and releases the session.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.doRequest(ctx, "POST", c.baseURL+"/disconnect")
}

// Discover locates the server JAR and java runtime without starting anything.
func (c *Client) Discover(ctx context.Context, force bool) (DiscoveryReport, error) {
	url := c.baseURL + "/discover"
	if force {
		url += "?force=1"
	}
	var rep DiscoveryReport
	err := c.getJSON(ctx, "POST", url, &rep)
	return rep, err
}

// call issues the request and turns a non-200 response into an error. The
// caller owns the body on success.
func (c *Client) call(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return nil, fmt.Errorf("do request: %w", err)
	}
	if err := c.apiError(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, method, url string) error {
	resp, err := c.call(ctx, method, url)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) getJSON(ctx context.Context, method, url string, out any) error {
	resp, err := c.call(ctx, method, url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError extracts the server's error message from a failed response.
func (c *Client) apiError(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		c.logger.Error("API request failed", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Error("API request failed", "error", er.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", er.Error)
}

package serval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// identityMarkers are substrings whose presence in the root document
// identifies a SERVAL instance (matched case-insensitively).
var identityMarkers = []string{"serval", "timepix", "<html>", "amsterdam scientific"}

// LooksLikeServal reports whether a root-endpoint body identifies a SERVAL
// server.
func LooksLikeServal(body string) bool {
	if len(body) == 0 {
		return false
	}
	lower := strings.ToLower(body)
	for _, m := range identityMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Client is the request handle the supervisor holds while connected to the
// controlled server. Created by Connect, released by Disconnect.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds the connection parameters for the controlled server.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration // per-request bound
	Logger  *slog.Logger
}

// New creates a client bound to the configured host:port.
func New(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

// BaseURL returns the server's base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Close releases pooled connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// Root fetches GET / and returns the body.
func (c *Client) Root(ctx context.Context) (string, error) {
	b, err := c.get(ctx, "/")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Identify fetches the root document and checks it for SERVAL identity
// markers.
func (c *Client) Identify(ctx context.Context) (bool, error) {
	body, err := c.Root(ctx)
	if err != nil {
		return false, err
	}
	return LooksLikeServal(body), nil
}

// Dashboard fetches GET /dashboard, returning both the typed document and the
// raw body (evidence scanning also inspects loosely-shaped fields).
func (c *Client) Dashboard(ctx context.Context) (*Dashboard, []byte, error) {
	raw, err := c.get(ctx, "/dashboard")
	if err != nil {
		return nil, nil, err
	}
	var d Dashboard
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, raw, fmt.Errorf("decode dashboard: %w", err)
	}
	return &d, raw, nil
}

// DetectorInfo fetches GET /detector/info as a loosely-typed document.
func (c *Client) DetectorInfo(ctx context.Context) (map[string]any, error) {
	raw, err := c.get(ctx, "/detector/info")
	if err != nil {
		return nil, err
	}
	var info map[string]any
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode detector info: %w", err)
	}
	return info, nil
}

// Shutdown asks the server to stop itself via GET /server/shutdown.
// A 200 means the request was accepted; actual exit is observed on the
// process handle.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.get(ctx, "/server/shutdown")
	if err != nil {
		return fmt.Errorf("shutdown request: %w", err)
	}
	c.logger.Info("shutdown request accepted by server")
	return nil
}

// Version returns the dashboard-reported software version.
func (c *Client) Version(ctx context.Context) (string, error) {
	d, _, err := c.Dashboard(ctx)
	if err != nil {
		return "", err
	}
	v := d.SoftwareVersion()
	if v == "" {
		return "", fmt.Errorf("dashboard carries no software version")
	}
	return v, nil
}

// Measuring reports whether an acquisition is in progress. Shutdown callers
// check this first; stopping the server mid-measurement loses data.
func (c *Client) Measuring(ctx context.Context) (bool, error) {
	d, _, err := c.Dashboard(ctx)
	if err != nil {
		return false, err
	}
	return d.Recording(), nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

// Package readiness answers "is the controlled server ready for work" in
// three stages: TCP port accepting, HTTP root answering, and, when the
// deployment requires hardware, positive connection evidence. Stages one and
// two are re-checked on every probe since they can regress; stage three is
// sticky for the lifetime of one process instance.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/loykin/servisr/internal/evidence"
	"github.com/loykin/servisr/internal/serval"
)

// DefaultPortProbeTimeout bounds the stage-one TCP dial.
const DefaultPortProbeTimeout = 2 * time.Second

// Stage identifies which check a probe reached.
type Stage int

const (
	StagePort Stage = iota + 1
	StageAPI
	StageConnection
)

func (s Stage) String() string {
	switch s {
	case StagePort:
		return "port"
	case StageAPI:
		return "api"
	case StageConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Result is the outcome of one readiness probe. When Ready is false, Stage
// names the check that failed and Reason says why.
type Result struct {
	Ready    bool              `json:"ready"`
	Stage    Stage             `json:"stage"`
	Reason   string            `json:"reason,omitempty"`
	Evidence evidence.Evidence `json:"evidence"`
}

// Config assembles a Checker.
type Config struct {
	Host              string
	Port              int
	PortProbeTimeout  time.Duration
	RequireConnection bool
	Client            *serval.Client
	Resolver          *evidence.Resolver
	Logger            *slog.Logger
}

// Checker probes one process instance. Create a fresh Checker per launch so
// the sticky connection evidence cannot leak across restarts.
type Checker struct {
	host      string
	port      int
	probeWait time.Duration
	require   bool
	client    *serval.Client
	resolver  *evidence.Resolver
	logger    *slog.Logger

	mu sync.Mutex
	ev evidence.Evidence
}

func New(cfg Config) *Checker {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.PortProbeTimeout <= 0 {
		cfg.PortProbeTimeout = DefaultPortProbeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Checker{
		host:      cfg.Host,
		port:      cfg.Port,
		probeWait: cfg.PortProbeTimeout,
		require:   cfg.RequireConnection,
		client:    cfg.Client,
		resolver:  cfg.Resolver,
		logger:    cfg.Logger,
	}
}

// Check runs the stages in order and stops at the first failure.
func (c *Checker) Check(ctx context.Context) Result {
	addr := net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))
	conn, err := net.DialTimeout("tcp", addr, c.probeWait)
	if err != nil {
		return Result{Stage: StagePort, Reason: fmt.Sprintf("port %d not accepting connections", c.port), Evidence: c.Evidence()}
	}
	_ = conn.Close()

	body, err := c.client.Root(ctx)
	if err != nil {
		return Result{Stage: StageAPI, Reason: fmt.Sprintf("root endpoint not responding: %v", err), Evidence: c.Evidence()}
	}
	if !serval.LooksLikeServal(body) {
		c.logger.Warn("root endpoint responding but does not look like SERVAL", "addr", addr)
	}

	if !c.require {
		return Result{Ready: true, Stage: StageAPI, Evidence: c.Evidence()}
	}
	ev := c.resolveSticky(ctx)
	if !ev.Positive {
		reason := "no connection evidence"
		if ev.Detail != "" {
			reason = ev.Detail
		}
		return Result{Stage: StageConnection, Reason: reason, Evidence: ev}
	}
	return Result{Ready: true, Stage: StageConnection, Evidence: ev}
}

// ResolveEvidence runs the resolver even when readiness does not require
// connection evidence, so callers like health checks can report a connection
// observed after startup. A positive result is recorded stickily.
func (c *Checker) ResolveEvidence(ctx context.Context) evidence.Evidence {
	return c.resolveSticky(ctx)
}

// resolveSticky returns the recorded positive evidence if present, otherwise
// runs the resolver and records a positive outcome.
func (c *Checker) resolveSticky(ctx context.Context) evidence.Evidence {
	c.mu.Lock()
	if c.ev.Positive || c.resolver == nil {
		ev := c.ev
		c.mu.Unlock()
		return ev
	}
	c.mu.Unlock()

	ev := c.resolver.Resolve(ctx)
	if ev.Positive {
		c.mu.Lock()
		if !c.ev.Positive {
			c.ev = ev
		}
		ev = c.ev
		c.mu.Unlock()
	}
	return ev
}

// Evidence returns the recorded connection evidence. Once positive it stays
// positive for this checker's lifetime.
func (c *Checker) Evidence() evidence.Evidence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ev
}

// Confirmed reports whether connection evidence has been positive at any
// point for this process instance.
func (c *Checker) Confirmed() bool {
	return c.Evidence().Positive
}

// RequiresConnection reports whether stage three applies at all.
func (c *Checker) RequiresConnection() bool { return c.require }

package servisr

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	cfg "github.com/loykin/servisr/internal/config"
	"github.com/loykin/servisr/internal/evidence"
	"github.com/loykin/servisr/internal/journal"
	"github.com/loykin/servisr/internal/journal/factory"
	"github.com/loykin/servisr/internal/metrics"
	iapi "github.com/loykin/servisr/internal/server"
	"github.com/loykin/servisr/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.ServalConfig

type FileConfig = cfg.FileConfig

type ServerConfig = cfg.ServerConfig

type JournalConfig = cfg.JournalConfig

type MetricsConfig = cfg.MetricsConfig

type Status = supervisor.Status

type HealthStatus = supervisor.HealthStatus

type Report = supervisor.Report

type Evidence = evidence.Evidence

type JournalSink = journal.Sink

// State re-exports so embedders can compare against sup.State().
type State = supervisor.State

const (
	StateIdle     = supervisor.StateIdle
	StateStarting = supervisor.StateStarting
	StateReady    = supervisor.StateReady
	StateDegraded = supervisor.StateDegraded
	StateStopped  = supervisor.StateStopped
)

// ErrConnectionTimeout reports that the server came up but no detector
// connection evidence appeared within the configured deadline.
var ErrConnectionTimeout = supervisor.ErrConnectionTimeout

// IsConnectionTimeout reports whether err carries a connection timeout.
func IsConnectionTimeout(err error) bool { return supervisor.IsConnectionTimeout(err) }

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.

type Supervisor struct {
	inner *supervisor.Supervisor
	rec   *journal.Recorder
}

func New(c Config) *Supervisor { return &Supervisor{inner: supervisor.New(c)} }

func (s *Supervisor) SetLogger(l *slog.Logger)  { s.inner.SetLogger(l) }
func (s *Supervisor) SetGlobalEnv(kvs []string) { s.inner.SetGlobalEnv(kvs) }

func (s *Supervisor) Connect(ctx context.Context) error    { return s.inner.Connect(ctx) }
func (s *Supervisor) Disconnect(ctx context.Context) error { return s.inner.Disconnect(ctx) }
func (s *Supervisor) Start(ctx context.Context) error      { return s.inner.Start(ctx) }
func (s *Supervisor) Stop(ctx context.Context) error       { return s.inner.Stop(ctx) }
func (s *Supervisor) Restart(ctx context.Context) error    { return s.inner.Restart(ctx) }

func (s *Supervisor) WaitUntilReady(ctx context.Context) error { return s.inner.WaitUntilReady(ctx) }

func (s *Supervisor) State() State       { return s.inner.State() }
func (s *Supervisor) Status() Status     { return s.inner.Status() }
func (s *Supervisor) Config() Config     { return s.inner.Config() }
func (s *Supervisor) Evidence() Evidence { return s.inner.Evidence() }

func (s *Supervisor) HealthCheck(ctx context.Context, force bool) HealthStatus {
	return s.inner.HealthCheck(ctx, force)
}

func (s *Supervisor) DiscoverAndValidate(force bool) Report {
	return s.inner.DiscoverAndValidate(force)
}

func (s *Supervisor) StartWithFullValidation(ctx context.Context) (Report, error) {
	return s.inner.StartWithFullValidation(ctx)
}

// NewJournalSink resolves a sink from a DSN such as
// "sqlite:///var/lib/servisr.db", "postgres://user:pw@host/db",
// "clickhouse://host:9000?table=supervisor_events" or
// "opensearch://host:9200/index".
func NewJournalSink(dsn string) (JournalSink, error) { return factory.NewSinkFromDSN(dsn) }

// SetJournalSinks wires lifecycle event recording to the given sinks.
func (s *Supervisor) SetJournalSinks(l *slog.Logger, sinks ...JournalSink) {
	rec := journal.NewRecorder(l)
	rec.SetSinks(sinks...)
	s.rec = rec
	s.inner.SetRecorder(rec)
}

// CloseJournal closes any closeable sinks and stops recording.
func (s *Supervisor) CloseJournal() {
	if s.rec != nil {
		s.rec.Close()
		s.rec = nil
	}
}

// LoadConfig reads, normalizes and validates a TOML config file.
func LoadConfig(path string) (*FileConfig, error) { return cfg.Load(path) }

// LoadGlobalEnv resolves the effective environment from config: env_files,
// the env list and optionally the OS environment.
func LoadGlobalEnv(path string) ([]string, error) { return cfg.LoadGlobalEnv(path) }

// NewAPIServer starts an HTTP server exposing the control API for the given
// supervisor.
func NewAPIServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner)
}

// NewAPIServerFromConfig starts the control API as configured, with TLS when
// enabled.
func NewAPIServerFromConfig(sc ServerConfig, s *Supervisor) (*http.Server, error) {
	return iapi.NewServerFromConfig(sc, s.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

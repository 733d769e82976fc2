// Package supervisor owns the lifecycle of one externally built SERVAL
// detector-control server: locating its JAR, launching it, deciding when it
// is genuinely ready (including evidence that the detector hardware is
// connected), keeping it alive, and shutting it down in an orderly way.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/servisr/internal/artifact"
	"github.com/loykin/servisr/internal/config"
	"github.com/loykin/servisr/internal/env"
	"github.com/loykin/servisr/internal/evidence"
	"github.com/loykin/servisr/internal/journal"
	"github.com/loykin/servisr/internal/metrics"
	"github.com/loykin/servisr/internal/process"
	"github.com/loykin/servisr/internal/readiness"
	"github.com/loykin/servisr/internal/serval"
)

// State Machine:
// Idle -> Starting -> Ready -> Degraded -> Starting (auto-restart)
//                  \-> Stopped (stop, watchdog timeout, startup failure)
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateReady
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	readinessPollInterval = time.Second
	watchdogPollInterval  = 2 * time.Second
	restartCooldown       = 2 * time.Second
	gracefulStopWait      = 10 * time.Second
	timeoutStopWait       = 2 * time.Second
	sigtermGrace          = 5 * time.Second
	apiProbeTimeout       = 2 * time.Second
)

// Supervisor drives one SERVAL instance.
//
// Lock hierarchy (to prevent deadlocks):
// 1. stopGate - serializes shutdown protocol runners
// 2. mu (state lock) - protects state, flags and task handles
// 3. process.Handle / readiness.Checker internal locks
type Supervisor struct {
	cfg config.ServalConfig

	logger   *slog.Logger
	recorder *journal.Recorder
	environ  *env.Env
	locator  *artifact.Locator

	stopGate sync.Mutex

	mu            sync.Mutex
	state         State
	reason        string
	handle        *process.Handle
	client        *serval.Client
	checker       *readiness.Checker
	connected     bool
	connTimedOut  bool
	stopRequested bool
	art           artifact.Artifact
	artValid      bool
	runCtx        context.Context
	runCancel     context.CancelFunc
	watchdogDone  chan struct{}
	monitorDone   chan struct{}
	lastHealth    HealthStatus
	lastHealthSet bool
}

// New builds a Supervisor for the given configuration. The config is
// normalized; call SetLogger, SetRecorder and SetGlobalEnv before the first
// lifecycle operation.
func New(cfg config.ServalConfig) *Supervisor {
	cfg.Normalize()
	s := &Supervisor{
		cfg:     cfg,
		logger:  slog.Default(),
		environ: env.New(),
		state:   StateIdle,
	}
	s.environ.FromOS()
	s.locator = artifact.NewLocator(searchRoots(cfg.SearchRoots), s.environ.ExpandPath, s.logger)
	s.handle = process.New(cfg.ProcessSpec())
	return s
}

func searchRoots(roots []string) []string {
	if len(roots) == 0 {
		return nil
	}
	return roots
}

// SetLogger replaces the supervisor's logger.
func (s *Supervisor) SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.logger = l
	s.locator = artifact.NewLocator(searchRoots(s.cfg.SearchRoots), s.environ.ExpandPath, l)
	s.mu.Unlock()
}

// SetRecorder attaches a journal recorder for lifecycle events.
func (s *Supervisor) SetRecorder(r *journal.Recorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// SetGlobalEnv sets global KEY=VALUE pairs merged into the child environment
// and used for ${VAR} expansion in configured paths.
func (s *Supervisor) SetGlobalEnv(kvs []string) {
	for _, kv := range kvs {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				s.environ.Set(kv[:i], kv[i+1:])
				break
			}
		}
	}
}

// Config returns a copy of the effective configuration.
func (s *Supervisor) Config() config.ServalConfig { return s.cfg }

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status is an externally consumable snapshot of the supervisor.
type Status struct {
	Name      string             `json:"name"`
	State     string             `json:"state"`
	Reason    string             `json:"reason,omitempty"`
	Connected bool               `json:"connected"`
	Process   process.Status     `json:"process"`
	Artifact  *artifact.Artifact `json:"artifact,omitempty"`
	Evidence  evidence.Evidence  `json:"evidence"`
}

// Status assembles a point-in-time snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{
		Name:      s.cfg.Name,
		State:     s.state.String(),
		Reason:    s.reason,
		Connected: s.connected,
	}
	if s.artValid {
		a := s.art
		st.Artifact = &a
	}
	checker := s.checker
	h := s.handle
	s.mu.Unlock()

	if h != nil {
		ps := h.Snapshot()
		ps.Running = h.Alive()
		st.Process = ps
	}
	if checker != nil {
		st.Evidence = checker.Evidence()
	}
	return st
}

// Evidence returns the connection evidence for the current process instance.
func (s *Supervisor) Evidence() evidence.Evidence {
	s.mu.Lock()
	checker := s.checker
	s.mu.Unlock()
	if checker == nil {
		return evidence.Evidence{}
	}
	return checker.Evidence()
}

// Connect ensures the server is running and ready and the HTTP client handle
// exists. Launches the server when it is not running. Safe to call repeatedly.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case StateReady:
		return nil
	case StateStarting:
		return s.WaitUntilReady(ctx)
	default:
		return s.Start(ctx)
	}
}

// Disconnect cancels background tasks, attempts a graceful shutdown and
// releases the client handle. Idempotent.
func (s *Supervisor) Disconnect(context.Context) error {
	s.stopWith(gracefulStopWait)
	return nil
}

// Stop shuts the server down with the orderly grace period. Repeated calls
// are no-ops. The shutdown runs to completion regardless of the caller's
// context; a dying request must not leave a half-stopped server.
func (s *Supervisor) Stop(context.Context) error {
	s.stopWith(gracefulStopWait)
	return nil
}

// Restart stops the server and starts it again.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.stopWith(gracefulStopWait)
	s.handle.IncRestarts()
	metrics.IncRestart(s.cfg.Name)
	s.record(journal.EventRestart, "operator restart")
	return s.Start(ctx)
}

// Start launches the server and blocks until it is ready or the startup
// attempt fails. Ready means: port accepting, API answering, and, when
// RequireConnection is set, positive detector-connection evidence.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		s.mu.Unlock()
		return nil
	case StateStarting:
		s.mu.Unlock()
		return fmt.Errorf("start already in progress")
	}
	if s.runCtx == nil || s.runCtx.Err() != nil {
		s.runCtx, s.runCancel = context.WithCancel(context.Background())
	}
	s.stopRequested = false
	s.connTimedOut = false
	s.connected = false
	s.lastHealthSet = false
	s.setStateLocked(StateStarting, "")
	runCtx := s.runCtx
	s.mu.Unlock()

	return s.startSequence(ctx, runCtx)
}

func (s *Supervisor) startSequence(ctx context.Context, runCtx context.Context) error {
	began := time.Now()

	art, err := s.ensureArtifact(false)
	if err != nil {
		s.failStart("artifact discovery failed", err)
		return err
	}

	spec := s.cfg.ProcessSpec()
	spec.JarPath = art.Path
	s.handle.UpdateSpec(spec)

	launchErr := withRetry(runCtx, s.cfg.Retries, s.cfg.RetryDelay, func() error {
		cmd := s.handle.ConfigureCmd(s.environ.Merge(spec.Env))
		return s.handle.TryStart(cmd)
	})
	if launchErr != nil {
		lerr := &LaunchError{Path: art.Path, Err: launchErr}
		s.failStart("launch failed", lerr)
		return lerr
	}
	metrics.IncStart(s.cfg.Name)
	s.record(journal.EventLaunch, art.Path)
	s.logger.Info("server launched",
		"name", s.cfg.Name, "pid", s.handle.PID(), "jar", art.Path, "port", s.cfg.Port)

	if s.handle.MonitoringStartIfNeeded() {
		done := make(chan struct{})
		s.mu.Lock()
		s.monitorDone = done
		s.mu.Unlock()
		go s.watchExit(runCtx, s.handle.CopyCmd(), done)
	}

	// Fresh client and checker per launch: sticky connection evidence must
	// not leak across process instances.
	client := serval.New(serval.Config{
		Host:    s.cfg.Host,
		Port:    s.cfg.Port,
		Timeout: s.cfg.RequestTimeout,
		Logger:  s.logger,
	})
	resolver := evidence.NewResolver(s.logger, evidence.DefaultSources(s.handle.Output, client)...)
	checker := readiness.New(readiness.Config{
		Host:              s.cfg.Host,
		Port:              s.cfg.Port,
		RequireConnection: s.cfg.ConnectionRequired(),
		Client:            client,
		Resolver:          resolver,
		Logger:            s.logger,
	})
	s.mu.Lock()
	if s.client != nil {
		s.client.Close()
	}
	s.client = client
	s.checker = checker
	s.mu.Unlock()

	if s.cfg.ConnectionRequired() {
		wd := make(chan struct{})
		s.mu.Lock()
		s.watchdogDone = wd
		s.mu.Unlock()
		go s.runWatchdog(runCtx, checker, wd)
	}

	// Give the child its startup window; returns early once the output
	// contains a ready phrase or the child exits.
	_ = s.handle.WaitForStartupOutput(runCtx, s.cfg.CaptureWindow)

	if err := s.awaitReady(ctx, runCtx, checker, began); err != nil {
		return err
	}

	s.mu.Lock()
	s.connected = s.connected || checker.Confirmed()
	s.setStateLocked(StateReady, "")
	s.mu.Unlock()

	metrics.ObserveStartDuration(s.cfg.Name, time.Since(began).Seconds())
	ev := checker.Evidence()
	if ev.Positive {
		metrics.IncEvidenceCheck(s.cfg.Name, ev.Method, "confirmed")
	}
	s.record(journal.EventReady, ev.Method)
	s.logger.Info("server ready",
		"name", s.cfg.Name, "took", time.Since(began).Round(time.Millisecond), "connected", ev.Positive)
	return nil
}

// awaitReady polls the readiness checker once per second until it reports
// ready, the child exits, or a deadline passes.
func (s *Supervisor) awaitReady(ctx, runCtx context.Context, checker *readiness.Checker, began time.Time) error {
	deadline := began.Add(s.cfg.StartupTimeout)
	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	var last readiness.Result
	for {
		if !s.handle.Alive() {
			return s.startFailedAfterExit(last)
		}
		res := checker.Check(runCtx)
		if res.Ready {
			return nil
		}
		last = res
		metrics.IncReadinessFailure(s.cfg.Name, res.Stage.String())
		s.logger.Debug("not ready yet", "stage", res.Stage.String(), "reason", res.Reason)

		if time.Now().After(deadline) {
			return s.abortStart(timeoutStopWait, "startup timeout",
				&TimeoutError{Stage: "startup", Limit: s.cfg.StartupTimeout})
		}
		select {
		case <-ctx.Done():
			return s.abortStart(timeoutStopWait, "start cancelled", ctx.Err())
		case <-runCtx.Done():
			return s.startInterrupted()
		case <-ticker.C:
		}
	}
}

// startFailedAfterExit classifies a child that died before becoming ready:
// either the watchdog enforced the connection deadline, or the server failed
// on its own.
func (s *Supervisor) startFailedAfterExit(last readiness.Result) error {
	s.mu.Lock()
	timedOut := s.connTimedOut
	s.mu.Unlock()

	if timedOut {
		s.awaitBackground()
		return &TimeoutError{Stage: "connection", Limit: s.cfg.ConnectionTimeout}
	}

	ps := s.handle.Snapshot()
	stage := "launch"
	if last.Stage != 0 {
		stage = last.Stage.String()
	}
	err := &ReadinessError{Stage: stage, Output: tailOf(s.handle.Output(), 2000), Err: ps.ExitErr}
	return s.abortStart(timeoutStopWait, "exited before ready", err)
}

// startInterrupted handles runCtx cancellation during the readiness wait:
// either the watchdog timed out (it already ran the shutdown protocol) or an
// operator stop is in flight.
func (s *Supervisor) startInterrupted() error {
	s.mu.Lock()
	timedOut := s.connTimedOut
	s.mu.Unlock()

	s.awaitBackground()
	if timedOut {
		return &TimeoutError{Stage: "connection", Limit: s.cfg.ConnectionTimeout}
	}
	return fmt.Errorf("start interrupted by stop request")
}

// abortStart tears down a partially started server and reports err.
func (s *Supervisor) abortStart(wait time.Duration, detail string, err error) error {
	s.logger.Warn("aborting start", "reason", detail, "error", err)
	s.mu.Lock()
	s.stopRequested = true
	cancel := s.runCancel
	s.mu.Unlock()
	s.handle.SetStopRequested(true)

	_ = s.shutdownProtocol(wait)
	if cancel != nil {
		cancel()
	}
	s.awaitBackground()
	s.finalizeStop(detail, journal.EventStop)
	return err
}

// failStart records a start that failed before any process was spawned.
func (s *Supervisor) failStart(detail string, err error) {
	s.logger.Error("start failed", "reason", detail, "error", err)
	s.mu.Lock()
	s.setStateLocked(StateStopped, "")
	s.mu.Unlock()
}

// stopWith runs the full stop sequence. Shutdown problems are logged, never
// propagated to the operator.
func (s *Supervisor) stopWith(wait time.Duration) {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.stopRequested = true
	cancel := s.runCancel
	s.mu.Unlock()
	s.handle.SetStopRequested(true)

	if cancel != nil {
		cancel()
	}
	if err := s.shutdownProtocol(wait); err != nil {
		s.logger.Error("shutdown protocol failed", "name", s.cfg.Name, "error", err)
	}
	s.awaitBackground()
	s.finalizeStop("stopped by operator", journal.EventStop)
}

// WaitUntilReady blocks until the supervisor reaches Ready, the startup
// attempt fails terminally, or ctx expires.
func (s *Supervisor) WaitUntilReady(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		state := s.state
		timedOut := s.connTimedOut
		s.mu.Unlock()

		switch state {
		case StateReady:
			return nil
		case StateStopped:
			if timedOut {
				return &TimeoutError{Stage: "connection", Limit: s.cfg.ConnectionTimeout}
			}
			return fmt.Errorf("server stopped before becoming ready")
		case StateIdle:
			return fmt.Errorf("server is not starting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// awaitBackground waits for the watchdog and exit monitor of the current run
// to finish. Callers must not hold mu.
func (s *Supervisor) awaitBackground() {
	s.mu.Lock()
	wd := s.watchdogDone
	md := s.monitorDone
	s.mu.Unlock()
	if wd != nil {
		<-wd
	}
	if md != nil {
		<-md
	}
}

// finalizeStop releases the client and settles state at Stopped. Safe to call
// more than once; only the first call journals and counts the stop.
func (s *Supervisor) finalizeStop(detail string, evt journal.EventType) {
	s.mu.Lock()
	already := s.state == StateStopped
	if !already {
		s.setStateLocked(StateStopped, detail)
	}
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.mu.Unlock()

	if !already {
		metrics.IncStop(s.cfg.Name)
		s.record(evt, detail)
		s.logger.Info("server stopped", "name", s.cfg.Name, "detail", detail)
	}
}

// setStateLocked transitions state and emits metrics. Callers hold mu.
func (s *Supervisor) setStateLocked(next State, reason string) {
	old := s.state
	s.state = next
	s.reason = reason
	if old == next {
		return
	}
	metrics.RecordStateTransition(s.cfg.Name, old.String(), next.String())
	metrics.SetCurrentState(s.cfg.Name, old.String(), false)
	metrics.SetCurrentState(s.cfg.Name, next.String(), true)
}

// record sends a journal event with the current snapshot attached.
func (s *Supervisor) record(t journal.EventType, detail string) {
	s.mu.Lock()
	rec := s.recorder
	snap := journal.Snapshot{
		Name:   s.cfg.Name,
		State:  s.state.String(),
		Detail: detail,
	}
	if s.artValid {
		snap.JarPath = s.art.Path
		snap.Version = s.art.Version
	}
	h := s.handle
	s.mu.Unlock()

	if h != nil {
		ps := h.Snapshot()
		snap.PID = ps.PID
		snap.Restarts = ps.Restarts
	}
	if rec != nil {
		rec.Record(journal.NewEvent(t, snap))
	}
}

func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

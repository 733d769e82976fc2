package supervisor

import (
	"context"
	"time"

	"github.com/loykin/servisr/internal/metrics"
	"github.com/loykin/servisr/internal/process"
)

// shutdownProtocol stops the running server in two phases: first the
// documented REST shutdown endpoint, then OS signals. gracefulWait bounds how
// long we wait for the process to exit after the API accepted the request.
// The returned error is non-nil only when even the forced phase failed to
// bring the process down; local teardown proceeds regardless.
//
// stopGate serializes runners so a watchdog-forced shutdown and an operator
// stop never interleave signal delivery.
func (s *Supervisor) shutdownProtocol(gracefulWait time.Duration) error {
	s.stopGate.Lock()
	defer s.stopGate.Unlock()

	s.mu.Lock()
	h := s.handle
	client := s.client
	s.mu.Unlock()

	if h == nil || !h.Alive() {
		return nil
	}
	h.SetStopRequested(true)

	if client != nil {
		probeCtx, cancel := context.WithTimeout(context.Background(), apiProbeTimeout)
		_, rootErr := client.Root(probeCtx)
		cancel()
		if rootErr == nil {
			mCtx, cancel := context.WithTimeout(context.Background(), apiProbeTimeout)
			if measuring, err := client.Measuring(mCtx); err == nil && measuring {
				s.logger.Warn("shutting down while a measurement is recording", "name", s.cfg.Name)
			}
			cancel()
			shutCtx, cancel := context.WithTimeout(context.Background(), apiProbeTimeout)
			err := client.Shutdown(shutCtx)
			cancel()
			if err != nil {
				s.logger.Debug("shutdown endpoint failed", "error", err)
			}
			if awaitExit(h, gracefulWait) {
				metrics.IncShutdownPhase(s.cfg.Name, "graceful")
				s.logger.Info("server shut down gracefully", "name", s.cfg.Name)
				return nil
			}
			s.logger.Warn("server did not exit after shutdown request",
				"name", s.cfg.Name, "waited", gracefulWait)
		}
	}

	// Fall back to SIGTERM with a grace period, then SIGKILL. Stop returns
	// the child's exit status, so "signal: terminated" here is success.
	if err := h.Stop(sigtermGrace); err != nil {
		s.logger.Debug("child exit status", "name", s.cfg.Name, "error", err)
	}
	if h.Alive() {
		if kerr := h.Kill(); kerr != nil && h.Alive() {
			metrics.IncShutdownPhase(s.cfg.Name, "forced")
			return &ShutdownError{Phase: "sigkill", Err: kerr}
		}
	}
	metrics.IncShutdownPhase(s.cfg.Name, "forced")
	return nil
}

// awaitExit waits up to wait for the process to be reaped.
func awaitExit(h *process.Handle, wait time.Duration) bool {
	done := h.WaitDoneChan()
	if done != nil {
		select {
		case <-done:
			return true
		case <-time.After(wait):
			return false
		}
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !h.Alive() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !h.Alive()
}

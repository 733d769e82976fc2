package supervisor

import (
	"context"
	"time"

	"github.com/loykin/servisr/internal/journal"
	"github.com/loykin/servisr/internal/metrics"
	"github.com/loykin/servisr/internal/readiness"
)

// runWatchdog enforces the connection evidence deadline. Every poll interval
// it checks whether evidence arrived; once the deadline passes without it,
// the server is forced down so a misconfigured detector does not sit behind
// a healthy-looking HTTP endpoint forever.
//
// Cancellation of ctx disarms the watchdog without touching the process.
func (s *Supervisor) runWatchdog(ctx context.Context, checker *readiness.Checker, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("watchdog panic", "name", s.cfg.Name, "panic", r)
		}
	}()

	deadline := time.Now().Add(s.cfg.ConnectionTimeout)
	ticker := time.NewTicker(watchdogPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if checker.Confirmed() {
			s.logger.Debug("watchdog disarmed, connection confirmed", "name", s.cfg.Name)
			return
		}
		if !s.handle.Alive() {
			return
		}
		if time.Now().Before(deadline) {
			continue
		}

		// Deadline passed. Re-check under the state lock: a health check or
		// readiness poll may have confirmed the connection after our last
		// Confirmed call.
		s.mu.Lock()
		if s.connected || checker.Confirmed() {
			s.mu.Unlock()
			return
		}
		s.connTimedOut = true
		cancel := s.runCancel
		s.mu.Unlock()

		s.logger.Warn("no connection evidence before deadline, forcing shutdown",
			"name", s.cfg.Name, "timeout", s.cfg.ConnectionTimeout)
		_ = s.shutdownProtocol(timeoutStopWait)
		metrics.IncConnectionTimeout(s.cfg.Name)
		s.record(journal.EventConnectionTimeout, "no connection evidence within deadline")
		if cancel != nil {
			cancel()
		}
		s.finalizeStop("connection evidence timeout", journal.EventStop)
		return
	}
}

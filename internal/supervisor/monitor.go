package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/loykin/servisr/internal/journal"
	"github.com/loykin/servisr/internal/metrics"
)

// watchExit reaps the child and, when the exit was not requested, restarts it
// after a short cooldown. One watcher runs per process instance; a restart
// spawns a fresh one, so supervision continues across any number of exits.
func (s *Supervisor) watchExit(ctx context.Context, cmd *exec.Cmd, done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("exit monitor panic", "name", s.cfg.Name, "panic", r)
		}
	}()
	if cmd == nil {
		close(done)
		return
	}

	exitErr := cmd.Wait()
	s.handle.CloseWaitDone()
	s.handle.MarkExited(exitErr)
	s.handle.CloseWriters()
	s.handle.MonitoringStop()

	detail := "exited cleanly"
	if exitErr != nil {
		detail = fmt.Sprintf("exited: %v", exitErr)
	}

	s.mu.Lock()
	stopping := s.stopRequested || s.connTimedOut || s.handle.StopRequested()
	unexpected := s.state == StateReady && !stopping && ctx.Err() == nil
	restart := unexpected && s.cfg.AutoRestartEnabled()
	if restart {
		s.setStateLocked(StateDegraded, "server exited unexpectedly")
	}
	s.mu.Unlock()

	// Unblock waiters before any cooldown sleep.
	close(done)

	s.logger.Info("server exited",
		"name", s.cfg.Name, "detail", detail, "restart", restart)
	if !restart {
		if unexpected {
			s.finalizeStop("exited unexpectedly, restart disabled", journal.EventStop)
		}
		return
	}

	s.record(journal.EventDegraded, detail)
	timer := time.NewTimer(restartCooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.mu.Lock()
	aborted := s.stopRequested || ctx.Err() != nil
	s.mu.Unlock()
	if aborted {
		return
	}

	s.handle.IncRestarts()
	metrics.IncRestart(s.cfg.Name)
	s.record(journal.EventRestart, "automatic restart after exit")
	if err := s.Start(ctx); err != nil {
		s.logger.Error("automatic restart failed", "name", s.cfg.Name, "error", err)
	}
}

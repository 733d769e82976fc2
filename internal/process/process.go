package process

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Handle owns exactly one SERVAL child process for its lifetime. All state is
// guarded by mu; background waiters coordinate through waitDone and the
// monitoring flag so cmd.Wait has a single caller.
type Handle struct {
	spec       Spec
	cmd        *exec.Cmd
	status     Status
	mu         sync.Mutex
	stopping   bool // true when Stop has been requested; suppresses auto-restart
	restarts   int
	outCloser  io.WriteCloser // rotating capture file, reused across restarts
	tail       *TailBuffer
	waitDone   chan struct{} // closed by the exit watcher when cmd.Wait returns
	monitoring bool          // true while an exit watcher owns cmd.Wait
}

// Status is a point-in-time snapshot of the child process.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   error     `json:"exit_error,omitempty"`
	Restarts  int       `json:"restarts"`
}

func New(spec Spec) *Handle {
	return &Handle{spec: spec, tail: NewTailBuffer(spec.TailSize)}
}

// UpdateSpec replaces the launch spec under lock (e.g. after re-discovery).
func (h *Handle) UpdateSpec(s Spec) {
	h.mu.Lock()
	h.spec = s
	h.mu.Unlock()
}

func (h *Handle) Spec() Spec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spec
}

// ConfigureCmd builds the java invocation: working directory, merged
// environment, its own process group, and combined stdout/stderr flowing
// into the tail buffer plus the rotating capture file when configured.
func (h *Handle) ConfigureCmd(mergedEnv []string) *exec.Cmd {
	h.mu.Lock()
	spec := h.spec
	h.mu.Unlock()

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	groupAttrs(cmd)

	h.tail.Reset()
	sink := io.Writer(h.tail)
	if spec.Log.Dir != "" || spec.Log.Path != "" {
		if w, err := spec.Log.Writer(captureName(spec.Name)); err == nil && w != nil {
			h.ensureCaptureWriter(w)
		}
		if cw := h.captureWriter(); cw != nil {
			sink = io.MultiWriter(h.tail, cw)
		}
	}
	cmd.Stdout = sink
	cmd.Stderr = sink
	return cmd
}

func captureName(name string) string {
	if name == "" {
		return "serval"
	}
	return name
}

// TryStart starts the command and records the running state atomically with
// respect to other handle operations.
func (h *Handle) TryStart(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	h.mu.Lock()
	h.cmd = cmd
	h.waitDone = make(chan struct{})
	h.status.Name = captureName(h.spec.Name)
	h.status.Running = true
	h.status.PID = cmd.Process.Pid
	h.status.StartedAt = time.Now()
	h.status.Restarts = h.restarts
	h.stopping = false
	h.mu.Unlock()
	return nil
}

// Output returns the retained recent child output.
func (h *Handle) Output() string { return h.tail.String() }

// OutputLen returns how much recent output is retained.
func (h *Handle) OutputLen() int { return h.tail.Len() }

func (h *Handle) CopyCmd() *exec.Cmd {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cmd
}

func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *Handle) CloseWaitDone() {
	h.mu.Lock()
	if h.waitDone != nil {
		close(h.waitDone)
		h.waitDone = nil
	}
	h.mu.Unlock()
}

func (h *Handle) WaitDoneChan() chan struct{} {
	h.mu.Lock()
	wd := h.waitDone
	h.mu.Unlock()
	return wd
}

func (h *Handle) MarkExited(err error) {
	h.mu.Lock()
	h.status.Running = false
	h.status.StoppedAt = time.Now()
	h.status.ExitErr = err
	h.mu.Unlock()
}

func (h *Handle) SetStopRequested(v bool) {
	h.mu.Lock()
	h.stopping = v
	h.mu.Unlock()
}

func (h *Handle) StopRequested() bool {
	h.mu.Lock()
	v := h.stopping
	h.mu.Unlock()
	return v
}

func (h *Handle) IncRestarts() int {
	h.mu.Lock()
	h.restarts++
	v := h.restarts
	h.mu.Unlock()
	return v
}

// MonitoringStartIfNeeded claims the single-waiter slot for cmd.Wait.
// Returns false when another goroutine already owns it.
func (h *Handle) MonitoringStartIfNeeded() bool {
	h.mu.Lock()
	if h.monitoring {
		h.mu.Unlock()
		return false
	}
	h.monitoring = true
	h.mu.Unlock()
	return true
}

func (h *Handle) MonitoringStop() {
	h.mu.Lock()
	h.monitoring = false
	h.mu.Unlock()
}

// IsMonitoring reports whether an exit watcher is actively waiting on the
// child. When true, Stop/Kill must not call cmd.Wait themselves; they wait on
// waitDone instead.
func (h *Handle) IsMonitoring() bool {
	h.mu.Lock()
	v := h.monitoring
	h.mu.Unlock()
	return v
}

func (h *Handle) ensureCaptureWriter(w io.WriteCloser) {
	h.mu.Lock()
	if h.outCloser == nil && w != nil {
		h.outCloser = w
	}
	h.mu.Unlock()
}

func (h *Handle) captureWriter() io.WriteCloser {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outCloser
}

func (h *Handle) CloseWriters() {
	h.mu.Lock()
	if h.outCloser != nil {
		_ = h.outCloser.Close()
		h.outCloser = nil
	}
	h.mu.Unlock()
}

// Snapshot returns a copy of the current status.
func (h *Handle) Snapshot() Status {
	h.mu.Lock()
	s := h.status
	h.mu.Unlock()
	return s
}

// Alive probes liveness avoiding races with os/exec internals. A zombie
// (exited but unreaped) child counts as not alive.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	cmd := h.cmd
	h.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return false
	}
	pid := cmd.Process.Pid
	if runtime.GOOS == "linux" {
		if isZombieLinux(pid) {
			return false
		}
		return processExists(pid)
	}
	return processExists(-pid)
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	path := "/proc/" + strconv.Itoa(pid) + "/status"
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// Stop terminates the child cooperatively: SIGTERM to the process group,
// wait up to grace for exit, then SIGKILL. Safe against a concurrent exit
// watcher owning cmd.Wait.
func (h *Handle) Stop(grace time.Duration) error {
	if !h.Alive() {
		return nil
	}
	h.SetStopRequested(true)
	cmd := h.CopyCmd()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	_ = killProcess(-pid, syscall.SIGTERM)

	if h.IsMonitoring() {
		h.awaitWaitDone(pid, grace)
	} else if h.MonitoringStartIfNeeded() {
		// We own the wait; reap and finalize state ourselves.
		ch := make(chan error, 1)
		go func() {
			err := cmd.Wait()
			h.CloseWaitDone()
			h.MarkExited(err)
			ch <- err
		}()
		select {
		case <-ch:
		case <-time.After(grace):
			_ = killProcess(-pid, syscall.SIGKILL)
			select {
			case <-ch:
			case <-time.After(200 * time.Millisecond):
				// best-effort
			}
		}
		h.CloseWriters()
		h.MonitoringStop()
	} else {
		// Lost the race to a watcher that claimed monitoring concurrently.
		h.awaitWaitDone(pid, grace)
	}
	return h.Snapshot().ExitErr
}

// awaitWaitDone waits for the exit watcher to reap, escalating to SIGKILL
// after grace.
func (h *Handle) awaitWaitDone(pid int, grace time.Duration) {
	wd := h.WaitDoneChan()
	if wd == nil {
		time.Sleep(grace)
		return
	}
	select {
	case <-wd:
	case <-time.After(grace):
		_ = killProcess(-pid, syscall.SIGKILL)
		select {
		case <-wd:
		case <-time.After(200 * time.Millisecond):
			// best-effort
		}
	}
}

// Kill sends SIGKILL to the process group and reaps promptly.
func (h *Handle) Kill() error {
	cmd := h.CopyCmd()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	h.SetStopRequested(true)
	pid := cmd.Process.Pid
	_ = killProcess(-pid, syscall.SIGKILL)
	if h.IsMonitoring() {
		h.awaitWaitDone(pid, 200*time.Millisecond)
	} else if h.MonitoringStartIfNeeded() {
		ch := make(chan error, 1)
		go func() {
			err := cmd.Wait()
			h.CloseWaitDone()
			h.MarkExited(err)
			ch <- err
		}()
		select {
		case <-ch:
		case <-time.After(200 * time.Millisecond):
			// best-effort
		}
		h.CloseWriters()
		h.MonitoringStop()
	} else {
		h.awaitWaitDone(pid, 200*time.Millisecond)
	}
	return h.Snapshot().ExitErr
}

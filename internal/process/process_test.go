package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/servisr/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// fakeJava writes an executable shell script standing in for the java binary.
// It receives the real -DhttpPort/-jar arguments and ignores them.
func fakeJava(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "java")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake java: %v", err)
	}
	return p
}

// watchExit mimics the supervisor's exit watcher: single cmd.Wait caller that
// closes waitDone and finalizes status.
func watchExit(h *Handle, cmd *exec.Cmd) {
	if !h.MonitoringStartIfNeeded() {
		return
	}
	go func() {
		err := cmd.Wait()
		h.CloseWaitDone()
		h.MarkExited(err)
		h.CloseWriters()
		h.MonitoringStop()
	}()
}

func TestTryStartRecordsStatus(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "srv", JavaBin: fakeJava(t, "sleep 0.2"), JarPath: "serval.jar", Port: 18080}
	h := New(spec)
	cmd := h.ConfigureCmd(nil)
	if err := h.TryStart(cmd); err != nil {
		t.Fatalf("TryStart: %v", err)
	}
	st := h.Snapshot()
	if !st.Running || st.PID <= 0 || st.Name != "srv" {
		t.Fatalf("status not set after start: %+v", st)
	}
	wd := h.WaitDoneChan()
	watchExit(h, cmd)
	select {
	case <-wd:
	case <-time.After(2 * time.Second):
		t.Fatalf("process did not exit in time")
	}
	deadline := time.Now().Add(time.Second)
	for h.Snapshot().Running && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	st = h.Snapshot()
	if st.Running || st.StoppedAt.IsZero() {
		t.Fatalf("status not finalized after exit: %+v", st)
	}
}

func TestConfigureCmdAppliesWorkdirEnvAndGroup(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	spec := Spec{Name: "cfg", JavaBin: "java", JarPath: "/opt/serval/serval-3.3.0.jar", Port: 9000, WorkDir: dir}
	h := New(spec)
	cmd := h.ConfigureCmd([]string{"FOO=bar"})

	if cmd.Dir != dir {
		t.Fatalf("workdir not applied: got %q want %q", cmd.Dir, dir)
	}
	if len(cmd.Env) != 1 || cmd.Env[0] != "FOO=bar" {
		t.Fatalf("env not applied: got %#v", cmd.Env)
	}
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Fatalf("SysProcAttr Setpgid not set")
	}
	want := []string{"java", "-DhttpPort=9000", "-jar", "/opt/serval/serval-3.3.0.jar"}
	if len(cmd.Args) != len(want) {
		t.Fatalf("args: got %v want %v", cmd.Args, want)
	}
	for i := range want {
		if cmd.Args[i] != want[i] {
			t.Fatalf("args[%d]: got %q want %q", i, cmd.Args[i], want[i])
		}
	}
	if cmd.Stdout == nil || cmd.Stderr == nil {
		t.Fatalf("output capture not wired")
	}
}

func TestConfigureCmdWritesCaptureFile(t *testing.T) {
	requireUnix(t)
	logs := filepath.Join(t.TempDir(), "logs")
	spec := Spec{
		Name:    "cap",
		JavaBin: fakeJava(t, `echo "serval capture line"; echo "on stderr" 1>&2`),
		JarPath: "serval.jar",
		Port:    18081,
		Log:     logger.FileConfig{Dir: logs},
	}
	h := New(spec)
	cmd := h.ConfigureCmd(nil)
	if err := h.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	wd := h.WaitDoneChan()
	watchExit(h, cmd)
	select {
	case <-wd:
	case <-time.After(2 * time.Second):
		t.Fatalf("process did not exit in time")
	}
	time.Sleep(50 * time.Millisecond)

	b, err := os.ReadFile(filepath.Join(logs, "cap.log"))
	if err != nil {
		t.Fatalf("read capture file: %v", err)
	}
	if !strings.Contains(string(b), "serval capture line") || !strings.Contains(string(b), "on stderr") {
		t.Fatalf("capture file missing output: %q", string(b))
	}
	if !strings.Contains(h.Output(), "serval capture line") {
		t.Fatalf("tail missing output: %q", h.Output())
	}
}

func TestStopTerminatesChild(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "stop", JavaBin: fakeJava(t, "sleep 5"), JarPath: "serval.jar", Port: 18082}
	h := New(spec)
	cmd := h.ConfigureCmd(nil)
	if err := h.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	watchExit(h, cmd)
	if !h.Alive() {
		t.Fatalf("child should be alive before stop")
	}
	start := time.Now()
	_ = h.Stop(2 * time.Second)
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Fatalf("stop took too long: %v", elapsed)
	}
	if h.Alive() {
		t.Fatalf("child still alive after stop")
	}
	if !h.StopRequested() {
		t.Fatalf("stop request flag not recorded")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	requireUnix(t)
	body := "trap '' TERM\nwhile true; do sleep 0.1; done"
	spec := Spec{Name: "stubborn", JavaBin: fakeJava(t, body), JarPath: "serval.jar", Port: 18083}
	h := New(spec)
	cmd := h.ConfigureCmd(nil)
	if err := h.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	watchExit(h, cmd)
	// Give the trap a moment to install.
	time.Sleep(100 * time.Millisecond)
	_ = h.Stop(300 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for h.Alive() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if h.Alive() {
		t.Fatalf("child survived SIGKILL escalation")
	}
}

func TestStopWithoutWatcherReapsItself(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "solo", JavaBin: fakeJava(t, "sleep 5"), JarPath: "serval.jar", Port: 18084}
	h := New(spec)
	cmd := h.ConfigureCmd(nil)
	if err := h.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = h.Stop(2 * time.Second)
	if h.Alive() {
		t.Fatalf("child still alive after stop")
	}
	st := h.Snapshot()
	if st.Running {
		t.Fatalf("status still running after self-reaped stop: %+v", st)
	}
}

func TestKillImmediate(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "kill", JavaBin: fakeJava(t, "sleep 5"), JarPath: "serval.jar", Port: 18085}
	h := New(spec)
	cmd := h.ConfigureCmd(nil)
	if err := h.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	watchExit(h, cmd)
	_ = h.Kill()
	deadline := time.Now().Add(2 * time.Second)
	for h.Alive() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if h.Alive() {
		t.Fatalf("child survived kill")
	}
}

func TestAliveReportsZombieAsDead(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "zombie", JavaBin: fakeJava(t, "exit 0"), JarPath: "serval.jar", Port: 18086}
	h := New(spec)
	cmd := h.ConfigureCmd(nil)
	if err := h.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	// No watcher reaps, so the exited child lingers as a zombie.
	deadline := time.Now().Add(2 * time.Second)
	for h.Alive() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if h.Alive() {
		t.Fatalf("zombie child reported alive")
	}
	// Clean up the zombie.
	_ = cmd.Wait()
}

func TestRestartCounterAndSpecUpdate(t *testing.T) {
	h := New(Spec{Name: "ctr", JarPath: "a.jar", Port: 8080})
	if n := h.IncRestarts(); n != 1 {
		t.Fatalf("IncRestarts: got %d want 1", n)
	}
	if n := h.IncRestarts(); n != 2 {
		t.Fatalf("IncRestarts: got %d want 2", n)
	}
	h.UpdateSpec(Spec{Name: "ctr", JarPath: "b.jar", Port: 8081})
	if got := h.Spec().JarPath; got != "b.jar" {
		t.Fatalf("UpdateSpec not applied: %q", got)
	}
}

func TestMonitoringSingleOwner(t *testing.T) {
	h := New(Spec{Name: "mon", JarPath: "a.jar", Port: 8080})
	if !h.MonitoringStartIfNeeded() {
		t.Fatalf("first claim should succeed")
	}
	if h.MonitoringStartIfNeeded() {
		t.Fatalf("second claim should fail while owned")
	}
	if !h.IsMonitoring() {
		t.Fatalf("IsMonitoring should be true while owned")
	}
	h.MonitoringStop()
	if !h.MonitoringStartIfNeeded() {
		t.Fatalf("claim after release should succeed")
	}
}

package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/servisr/internal/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// crashOnceScript exits shortly after the first launch and stays up on the
// second, so a restart can be observed deterministically.
func crashOnceScript(t *testing.T) string {
	t.Helper()
	marker := filepath.Join(t.TempDir(), "started-once")
	body := fmt.Sprintf(`echo "listening on"
if [ -f %q ]; then
  sleep 60
fi
touch %q
sleep 0.3
exit 1`, marker, marker)
	return fakeJava(t, body)
}

func TestAutoRestartAfterUnexpectedExit(t *testing.T) {
	requireUnix(t)
	f := newFakeServal(t)
	cfg := testConfig(f, crashOnceScript(t), testJar(t))
	cfg.RequireConnection = bptr(false)
	sup := New(cfg)
	f.onShutdown = func() { killGroup(sup) }
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })

	sink := &memSink{}
	rec := journal.NewRecorder(nil)
	rec.SetSinks(sink)
	sup.SetRecorder(rec)

	t.Log("Phase 1: Starting server that dies shortly after readiness")

	require.NoError(t, sup.Start(t.Context()))
	firstPID := sup.Status().Process.PID
	require.Greater(t, firstPID, 0, "started server should have valid PID")
	t.Logf("✓ Started server (PID: %d)", firstPID)

	t.Log("Phase 2: Waiting for exit monitor to detect death and relaunch")

	// The child dies ~0.3s in; the monitor holds a cooldown, then relaunches.
	sawDegraded := false
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if sup.State() == StateDegraded {
			sawDegraded = true
		}
		st := sup.Status()
		if st.State == "ready" && st.Process.Restarts == 1 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Log("Phase 3: Verifying auto-restart results")

	st := sup.Status()
	require.Equal(t, "ready", st.State, "server should be ready after auto-restart")
	assert.Equal(t, 1, st.Process.Restarts, "restart count should increment")
	assert.True(t, sawDegraded, "degraded state should surface during the cooldown")
	assert.NotEqual(t, firstPID, st.Process.PID, "restarted instance should have new PID")
	assert.True(t, sink.has(journal.EventDegraded), "degraded event missing: %v", sink.types())
	assert.True(t, sink.has(journal.EventRestart), "restart event missing: %v", sink.types())
	t.Logf("✓ Auto-restart successful: PID %d → %d, Restarts 0 → %d", firstPID, st.Process.PID, st.Process.Restarts)

	require.NoError(t, sup.Stop(t.Context()))
	assert.Equal(t, StateStopped, sup.State())
}

func TestNoRestartWhenDisabled(t *testing.T) {
	requireUnix(t)
	f := newFakeServal(t)
	cfg := testConfig(f, fakeJava(t, `echo "listening on"; sleep 0.3; exit 7`), testJar(t))
	cfg.RequireConnection = bptr(false)
	cfg.AutoRestart = bptr(false)
	sup := New(cfg)

	sink := &memSink{}
	rec := journal.NewRecorder(nil)
	rec.SetSinks(sink)
	sup.SetRecorder(rec)

	require.NoError(t, sup.Start(t.Context()))

	deadline := time.Now().Add(5 * time.Second)
	for sup.State() != StateStopped && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	st := sup.Status()
	assert.Equal(t, "stopped", st.State, "server without auto-restart should stay dead")
	assert.Equal(t, 0, st.Process.Restarts, "restart count should not increment")
	assert.False(t, sink.has(journal.EventRestart), "restart event recorded with restarts disabled: %v", sink.types())
}

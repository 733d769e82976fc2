package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/servisr/internal/config"
	"github.com/loykin/servisr/internal/supervisor"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// fakeServal answers the controlled server's HTTP API on a fixed port while
// the supervised child is a plain shell script.
type fakeServal struct {
	host string
	port int

	mu         sync.Mutex
	shutdowns  int
	onShutdown func()
}

func newFakeServal(t *testing.T) *fakeServal {
	t.Helper()
	f := &fakeServal{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("<html>SERVAL 3.3.2</html>"))
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Server":{"SoftwareVersion":"3.3.2"}}`))
	})
	mux.HandleFunc("/server/shutdown", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.shutdowns++
		fn := f.onShutdown
		f.mu.Unlock()
		_, _ = w.Write([]byte("shutting down"))
		if fn != nil {
			fn()
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	f.host = u.Hostname()
	f.port, _ = strconv.Atoi(u.Port())
	return f
}

func fakeJava(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "java")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake java: %v", err)
	}
	return p
}

func testJar(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "serval-3.3.0.jar")
	if err := os.WriteFile(p, []byte("PK\x03\x04"), 0o644); err != nil {
		t.Fatalf("write jar: %v", err)
	}
	return p
}

func bptr(b bool) *bool { return &b }

func testConfig(f *fakeServal, javaBin, jarPath string) config.ServalConfig {
	return config.ServalConfig{
		Name:                "sv",
		JarPath:             jarPath,
		JavaBin:             javaBin,
		Host:                f.host,
		Port:                f.port,
		StartupTimeout:      8 * time.Second,
		HealthCheckInterval: time.Hour,
		ConnectionTimeout:   30 * time.Second,
		RequestTimeout:      2 * time.Second,
		Retries:             1,
		RetryDelay:          10 * time.Millisecond,
		CaptureWindow:       300 * time.Millisecond,
		RequireConnection:   bptr(false),
	}
}

func setupRouter(t *testing.T, base string, sup *supervisor.Supervisor) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(sup, base).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func TestStatusIdle(t *testing.T) {
	f := newFakeServal(t)
	h := setupRouter(t, "", supervisor.New(testConfig(f, "java", "serval.jar")))
	rec := doReq(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var st supervisor.Status
	decode(t, rec, &st)
	if st.State != "idle" || st.Process.Running || st.Connected {
		t.Fatalf("unexpected idle status: %+v", st)
	}
}

func TestBasePathPrefix(t *testing.T) {
	f := newFakeServal(t)
	h := setupRouter(t, "/api", supervisor.New(testConfig(f, "java", "serval.jar")))
	if rec := doReq(t, h, http.MethodGet, "/api/status"); rec.Code != http.StatusOK {
		t.Fatalf("prefixed route: expected 200, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/status"); rec.Code != http.StatusNotFound {
		t.Fatalf("unprefixed route: expected 404, got %d", rec.Code)
	}
}

func TestStartFailureReturns500(t *testing.T) {
	f := newFakeServal(t)
	cfg := testConfig(f, "java", filepath.Join(t.TempDir(), "missing.jar"))
	h := setupRouter(t, "", supervisor.New(cfg))
	rec := doReq(t, h, http.MethodPost, "/start")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp errorResp
	decode(t, rec, &resp)
	if resp.Error == "" {
		t.Fatalf("expected error message in body: %s", rec.Body.String())
	}
}

func TestHealthWhenNotRunning(t *testing.T) {
	f := newFakeServal(t)
	h := setupRouter(t, "", supervisor.New(testConfig(f, "java", "serval.jar")))
	rec := doReq(t, h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var hs supervisor.HealthStatus
	decode(t, rec, &hs)
	if hs.Healthy || hs.Error == "" {
		t.Fatalf("expected unhealthy with reason, got %+v", hs)
	}
}

func TestDiscoverEndpoint(t *testing.T) {
	requireUnix(t)
	f := newFakeServal(t)
	cfg := testConfig(f, "sh", testJar(t))
	h := setupRouter(t, "", supervisor.New(cfg))
	rec := doReq(t, h, http.MethodPost, "/discover")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rep supervisor.Report
	decode(t, rec, &rep)
	if !rep.JarFound || !rep.JavaAvailable {
		t.Fatalf("expected jar and java found, got %+v", rep)
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	requireUnix(t)
	f := newFakeServal(t)
	cfg := testConfig(f, fakeJava(t, `echo "listening on"; sleep 60`), testJar(t))
	sup := supervisor.New(cfg)
	f.onShutdown = func() {
		if pid := sup.Status().Process.PID; pid > 0 {
			_ = syscall.Kill(-pid, syscall.SIGTERM)
		}
	}
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })
	h := setupRouter(t, "", sup)

	if rec := doReq(t, h, http.MethodPost, "/connect"); rec.Code != http.StatusOK {
		t.Fatalf("connect: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var st supervisor.Status
	decode(t, doReq(t, h, http.MethodGet, "/status"), &st)
	if st.State != "ready" || !st.Process.Running {
		t.Fatalf("after connect: %+v", st)
	}

	var hs supervisor.HealthStatus
	decode(t, doReq(t, h, http.MethodGet, "/health"), &hs)
	if !hs.Healthy {
		t.Fatalf("expected healthy after connect, got %+v", hs)
	}

	if rec := doReq(t, h, http.MethodPost, "/stop"); rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, doReq(t, h, http.MethodGet, "/status"), &st)
	if st.State != "stopped" || st.Process.Running {
		t.Fatalf("after stop: %+v", st)
	}
}

func TestArtifactEndpoint(t *testing.T) {
	requireUnix(t)
	f := newFakeServal(t)
	jar := testJar(t)
	h := setupRouter(t, "", supervisor.New(testConfig(f, "sh", jar)))
	rec := doReq(t, h, http.MethodGet, "/artifact")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var art struct {
		Path    string `json:"path"`
		Version string `json:"version"`
	}
	decode(t, rec, &art)
	if art.Path != jar || art.Version != "3.3.0" {
		t.Fatalf("unexpected artifact: %+v", art)
	}
}

func TestArtifactEndpointNotFound(t *testing.T) {
	f := newFakeServal(t)
	cfg := testConfig(f, "java", filepath.Join(t.TempDir(), "nope.jar"))
	h := setupRouter(t, "", supervisor.New(cfg))
	if rec := doReq(t, h, http.MethodGet, "/artifact"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEvidenceEndpoint(t *testing.T) {
	f := newFakeServal(t)
	h := setupRouter(t, "", supervisor.New(testConfig(f, "java", "serval.jar")))
	rec := doReq(t, h, http.MethodGet, "/evidence")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var ev struct {
		Positive bool `json:"positive"`
	}
	decode(t, rec, &ev)
	if ev.Positive {
		t.Fatalf("expected no evidence before any launch")
	}
}

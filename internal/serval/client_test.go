package serval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func testClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	return New(Config{Host: u.Hostname(), Port: port, Timeout: 2 * time.Second})
}

func TestLooksLikeServal(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{"<HTML><body>welcome</body></HTML>", true},
		{"SERVAL 2.1.6", true},
		{"Timepix3 control server", true},
		{"Amsterdam Scientific Instruments", true},
		{"", false},
		{"nginx default page", false},
	}
	for _, c := range cases {
		if got := LooksLikeServal(c.body); got != c.want {
			t.Errorf("LooksLikeServal(%q) = %v, want %v", c.body, got, c.want)
		}
	}
}

func TestIdentify(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("<html>SERVAL</html>"))
	}))
	ok, err := c.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !ok {
		t.Fatalf("expected identity match")
	}
}

func TestDashboardTyped(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dashboard" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{
			"Server": {"SoftwareVersion": "3.3.0"},
			"Measurement": {"Status": "DA_RECORDING", "FrameCount": 12},
			"Detector": {"DetectorType": "Tpx3"}
		}`))
	}))
	d, raw, err := c.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("raw body empty")
	}
	if d.SoftwareVersion() != "3.3.0" {
		t.Errorf("version = %q", d.SoftwareVersion())
	}
	if d.DetectorType() != "Tpx3" {
		t.Errorf("detector type = %q", d.DetectorType())
	}
	if !d.Recording() {
		t.Errorf("expected Recording")
	}
	measuring, err := c.Measuring(context.Background())
	if err != nil {
		t.Fatalf("Measuring: %v", err)
	}
	if !measuring {
		t.Errorf("expected Measuring while status is DA_RECORDING")
	}
}

func TestDetectorInfo(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detector/info" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"NumberOfChips": 4, "IfaceName": "eth1"}`))
	}))
	info, err := c.DetectorInfo(context.Background())
	if err != nil {
		t.Fatalf("DetectorInfo: %v", err)
	}
	if info["IfaceName"] != "eth1" {
		t.Fatalf("info = %v", info)
	}
}

func TestShutdownAcceptedAndRejected(t *testing.T) {
	var status = http.StatusOK
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/server/shutdown" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
	}))
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	status = http.StatusInternalServerError
	if err := c.Shutdown(context.Background()); err == nil {
		t.Fatalf("expected error on HTTP 500")
	}
}

func TestVersionMissing(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	if _, err := c.Version(context.Background()); err == nil {
		t.Fatalf("expected error for empty dashboard")
	}
}

func TestRequestTimeoutBounds(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	c.client.Timeout = 50 * time.Millisecond
	start := time.Now()
	_, err := c.Root(context.Background())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("request not bounded by timeout: %v", elapsed)
	}
}

package journal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestNewEventStampsTime(t *testing.T) {
	before := time.Now().UTC()
	e := NewEvent(EventReady, Snapshot{Name: "serval", State: "ready", PID: 42})
	if e.Type != EventReady || e.Snapshot.PID != 42 {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.OccurredAt.Before(before) || time.Since(e.OccurredAt) > time.Minute {
		t.Fatalf("timestamp not stamped: %v", e.OccurredAt)
	}
}

func TestRecorderFansOut(t *testing.T) {
	a, b := &memSink{}, &memSink{}
	r := NewRecorder(nil)
	r.SetSinks(a, b)
	r.Record(NewEvent(EventLaunch, Snapshot{Name: "serval", PID: 1}))
	r.Record(NewEvent(EventReady, Snapshot{Name: "serval", PID: 1}))
	if a.count() != 2 || b.count() != 2 {
		t.Fatalf("fan-out incomplete: a=%d b=%d", a.count(), b.count())
	}
}

func TestRecorderToleratesFailingSink(t *testing.T) {
	bad := &memSink{err: errors.New("sink down")}
	good := &memSink{}
	r := NewRecorder(nil)
	r.SetSinks(bad, good)
	r.Record(NewEvent(EventStop, Snapshot{Name: "serval"}))
	if good.count() != 1 {
		t.Fatalf("healthy sink skipped after failing sink")
	}
}

func TestRecorderWithoutSinksIsNoop(t *testing.T) {
	r := NewRecorder(nil)
	r.Record(NewEvent(EventDegraded, Snapshot{Name: "serval"}))
}

func TestRecorderCloseClosesSinks(t *testing.T) {
	s := &memSink{}
	r := NewRecorder(nil)
	r.SetSinks(s)
	r.Close()
	if !s.closed {
		t.Fatalf("sink not closed")
	}
	// After close the sink set is empty; recording must not panic.
	r.Record(NewEvent(EventStop, Snapshot{Name: "serval"}))
	if s.count() != 0 {
		t.Fatalf("event delivered after close")
	}
}

func TestClickHouseHTTPSinkSend(t *testing.T) {
	var gotQuery string
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = b
		w.WriteHeader(200)
	}))
	defer ts.Close()

	sink := NewClickHouseHTTPSink(ts.URL, "default.supervisor_events")
	e := NewEvent(EventConnectionTimeout, Snapshot{Name: "serval", PID: 2, Detail: "no evidence before deadline"})
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotQuery == "" || len(gotBody) == 0 {
		t.Fatalf("expected non-empty query/body")
	}
	// body should be a single JSON line
	if gotBody[len(gotBody)-1] != '\n' {
		t.Fatalf("expected trailing newline in body")
	}
	var m map[string]any
	if err := json.Unmarshal(gotBody[:len(gotBody)-1], &m); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if m["type"] != "connection_timeout" {
		t.Fatalf("unexpected event type in body: %v", m)
	}
}

func TestClickHouseHTTPSinkErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad insert", http.StatusBadRequest)
	}))
	defer ts.Close()

	sink := NewClickHouseHTTPSink(ts.URL, "t")
	if err := sink.Send(context.Background(), NewEvent(EventStop, Snapshot{})); err == nil {
		t.Fatalf("expected error on HTTP 400")
	}
}

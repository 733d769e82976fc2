package journal

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSQLSinkSQLiteRoundTrip(t *testing.T) {
	sink, err := NewSQLSinkFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatalf("open sqlite sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	events := []Event{
		NewEvent(EventLaunch, Snapshot{Name: "serval", State: "starting", PID: 100, JarPath: "/opt/serval/serval-3.3.0.jar", Version: "3.3.0"}),
		NewEvent(EventReady, Snapshot{Name: "serval", State: "ready", PID: 100, Version: "3.3.0"}),
		NewEvent(EventStop, Snapshot{Name: "serval", State: "stopped", PID: 100, Restarts: 1, Detail: "operator stop"}),
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Type, err)
		}
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM supervisor_events WHERE name = ?", "serval").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 events, got %d", count)
	}

	var event, state, detail string
	row := sink.db.QueryRowContext(ctx, "SELECT event, state, detail FROM supervisor_events WHERE event = ?", "stop")
	if err := row.Scan(&event, &state, &detail); err != nil {
		t.Fatalf("select stop row: %v", err)
	}
	if event != "stop" || state != "stopped" || detail != "operator stop" {
		t.Fatalf("unexpected row: %s %s %s", event, state, detail)
	}
}

func TestSQLSinkBarePathDefaultsToSQLite(t *testing.T) {
	path := t.TempDir() + "/journal.db"
	sink, err := NewSQLSinkFromDSN(path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	if err := sink.Send(ctx, NewEvent(EventDiscovery, Snapshot{Name: "serval"})); err != nil {
		t.Fatalf("send: %v", err)
	}
	// The ?-placeholder query only works against the sqlite driver.
	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM supervisor_events WHERE event = ?", "discovery").Scan(&count); err != nil {
		t.Fatalf("query journal.db: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 discovery event, got %d", count)
	}
}

func TestSQLSinkEmptyDSN(t *testing.T) {
	if _, err := NewSQLSinkFromDSN("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestSQLSinkPostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := NewSQLSinkFromDSN(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	if err := sink.Send(ctx, NewEvent(EventLaunch, Snapshot{Name: "serval", State: "starting", PID: 12345})); err != nil {
		t.Fatalf("Failed to send launch event: %v", err)
	}
	if err := sink.Send(ctx, NewEvent(EventStop, Snapshot{Name: "serval", State: "stopped", PID: 12345, Detail: "test stop"})); err != nil {
		t.Fatalf("Failed to send stop event: %v", err)
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM supervisor_events WHERE name = $1", "serval").Scan(&count); err != nil {
		t.Fatalf("Failed to query supervisor_events: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events in journal, got %d", count)
	}
}

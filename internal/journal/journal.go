// Package journal exports supervisor lifecycle events to external systems:
// relational databases, ClickHouse, OpenSearch. Recording is strictly
// best-effort; a broken sink must never affect the supervised server.
package journal

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventLaunch            EventType = "launch"
	EventReady             EventType = "ready"
	EventDegraded          EventType = "degraded"
	EventRestart           EventType = "restart"
	EventStop              EventType = "stop"
	EventConnectionTimeout EventType = "connection_timeout"
	EventDiscovery         EventType = "discovery"
)

// Snapshot is the supervisor state flattened into an event record.
type Snapshot struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	PID      int    `json:"pid"`
	JarPath  string `json:"jar_path,omitempty"`
	Version  string `json:"version,omitempty"`
	Restarts int    `json:"restarts"`
	Detail   string `json:"detail,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Snapshot   Snapshot  `json:"snapshot"`
}

// NewEvent stamps a snapshot with the event type and the current time.
func NewEvent(t EventType, s Snapshot) Event {
	return Event{Type: t, OccurredAt: time.Now().UTC(), Snapshot: s}
}

// Sink is a destination for journal events (audit/analytics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

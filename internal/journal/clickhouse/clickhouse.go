package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/loykin/servisr/internal/journal"
)

// Sink writes supervisor events to a ClickHouse table over the native
// protocol. For the HTTP interface use the clickhouse-http DSN instead.
type Sink struct {
	conn   driver.Conn
	table  string
	insert string
}

// New connects to the ClickHouse server at addr and verifies the connection
// with a ping before returning the sink.
func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr:        []string{addr},
		Auth:        clickhouse.Auth{Database: "default", Username: "default"},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	s := &Sink{
		conn:   conn,
		table:  table,
		insert: fmt.Sprintf("INSERT INTO %s (type, occurred_at, name, state, pid, jar_path, version, restarts, detail) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", table),
	}
	return s, nil
}

// Close releases the native connection.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureSchema creates the events table when missing. Callers that manage
// schema out of band can skip it.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		type String,
		occurred_at DateTime64(3),
		name String,
		state String,
		pid Int64,
		jar_path String,
		version String,
		restarts Int32,
		detail String
	) ENGINE = MergeTree() ORDER BY (name, occurred_at)`, s.table)
	return s.conn.Exec(ctx, q)
}

// Send appends one event row. The table must exist, see EnsureSchema.
func (s *Sink) Send(ctx context.Context, e journal.Event) error {
	snap := e.Snapshot
	err := s.conn.Exec(ctx, s.insert,
		string(e.Type), e.OccurredAt.UTC(),
		snap.Name, snap.State, int64(snap.PID),
		snap.JarPath, snap.Version, int32(snap.Restarts), snap.Detail,
	)
	if err != nil {
		return fmt.Errorf("clickhouse insert: %w", err)
	}
	return nil
}

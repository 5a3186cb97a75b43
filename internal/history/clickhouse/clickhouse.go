// Package clickhouse is the transition sink for time-series telemetry at
// scale: one MergeTree row per spawn/exit, ordered for per-run and
// per-slot range scans.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/peaceprotocol/node-supervisor/internal/history"
)

// Sink sends slot transitions to ClickHouse via the native protocol.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr (host:port, native protocol), verifies the
// connection and ensures the transitions table exists.
func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		occurred_at DateTime64(6),
		slot LowCardinality(String),
		event LowCardinality(String),
		phase LowCardinality(String),
		pid UInt32,
		progress Float64,
		restart_count UInt32,
		exit_error Nullable(String),
		run_id String
	) ENGINE = MergeTree()
	ORDER BY (slot, occurred_at, run_id)`, s.table)
	if err := s.conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	var exitErr *string
	if e.ExitError != "" {
		exitErr = &e.ExitError
	}
	query := fmt.Sprintf(`INSERT INTO %s (occurred_at, slot, event, phase, pid, progress, restart_count, exit_error, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query,
		e.OccurredAt,
		e.Slot,
		string(e.Type),
		e.Phase,
		uint32(e.PID),
		e.Progress,
		uint32(e.RestartCount),
		exitErr,
		e.RunID,
	); err != nil {
		return fmt.Errorf("insert transition into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

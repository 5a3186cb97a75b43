// Package sqlite is the default, dependency-free transition sink: an
// append-only slot_transitions table in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/peaceprotocol/node-supervisor/internal/history"
)

// Sink appends slot transitions to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New opens (or creates) the database and ensures the schema. Accepted DSN
// forms: "sqlite:///path/to/file.db", "sqlite://:memory:", a bare path, or
// ":memory:".
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	// Append-only audit table, one row per spawn/exit. run_id ties the two
	// rows of one child run together.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS slot_transitions(
		occurred_at TIMESTAMP NOT NULL,
		slot TEXT NOT NULL,
		event TEXT NOT NULL,
		phase TEXT NOT NULL,
		pid INTEGER NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		restart_count INTEGER NOT NULL DEFAULT 0,
		exit_error TEXT,
		run_id TEXT NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS idx_slot_transitions_run ON slot_transitions(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	var exitErr any
	if e.ExitError != "" {
		exitErr = e.ExitError
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slot_transitions(occurred_at, slot, event, phase, pid, progress, restart_count, exit_error, run_id)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), e.Slot, string(e.Type), e.Phase, e.PID, e.Progress, e.RestartCount, exitErr, e.RunID)
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

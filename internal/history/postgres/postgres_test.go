package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/peaceprotocol/node-supervisor/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
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
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
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

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	// One full child run: spawn, then a crashed exit while syncing.
	started := time.Now().Add(-time.Minute).UTC()
	run := history.RunID(12345, started)
	spawn := history.Event{
		Type:       history.EventSpawn,
		OccurredAt: started,
		Slot:       "node",
		PID:        12345,
		Phase:      "running",
		RunID:      run,
	}
	if err := sink.Send(ctx, spawn); err != nil {
		t.Fatalf("Failed to send spawn event: %v", err)
	}

	exit := history.Event{
		Type:         history.EventExit,
		OccurredAt:   time.Now().UTC(),
		Slot:         "node",
		PID:          12345,
		Phase:        "syncing",
		Progress:     0.8,
		RestartCount: 2,
		ExitError:    "process exited with code 1",
		RunID:        run,
	}
	if err := sink.Send(ctx, exit); err != nil {
		t.Fatalf("Failed to send exit event: %v", err)
	}

	var count int
	if err := sink.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM slot_transitions WHERE run_id = $1", run).Scan(&count); err != nil {
		t.Fatalf("Failed to query slot_transitions: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 transitions for run, got %d", count)
	}

	var phase string
	var progress float64
	if err := sink.db.QueryRowContext(ctx,
		"SELECT phase, progress FROM slot_transitions WHERE event = 'exit' AND run_id = $1", run).
		Scan(&phase, &progress); err != nil {
		t.Fatalf("Failed to query exit row: %v", err)
	}
	if phase != "syncing" || progress != 0.8 {
		t.Errorf("exit row = (%q, %v), want (syncing, 0.8)", phase, progress)
	}
}

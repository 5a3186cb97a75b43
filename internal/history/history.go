// Package history exports slot lifecycle transitions to external analytics
// sinks. Each event is one observed spawn or exit of a managed child,
// flattened to the slot's status at that moment so the indexed shape needs
// no joins to answer "what was kupo doing at 14:02".
package history

import (
	"context"
	"fmt"
	"time"
)

// EventType tags which side of a child's run an event records.
type EventType string

const (
	EventSpawn EventType = "spawn"
	EventExit  EventType = "exit"
)

// Event is one slot transition. Phase and Progress carry the slot's status
// at emission (so an exit event shows whether the child died Running,
// Syncing or already Stopped by the user); RestartCount is the cumulative
// crash-restart counter at that point.
type Event struct {
	Type         EventType `json:"type"`
	OccurredAt   time.Time `json:"occurred_at"`
	Slot         string    `json:"slot"`
	PID          int       `json:"pid"`
	Phase        string    `json:"phase"`
	Progress     float64   `json:"progress,omitempty"`
	RestartCount int       `json:"restart_count"`
	ExitError    string    `json:"exit_error,omitempty"`
	RunID        string    `json:"run_id"`
}

// RunID names one spawn of a slot. The OS recycles PIDs, so the spawn time
// disambiguates: the spawn and exit events of the same run share a RunID,
// and a later run reusing the PID never collides.
func RunID(pid int, startedAt time.Time) string {
	return fmt.Sprintf("%d-%d", pid, startedAt.UTC().UnixNano())
}

// Sink is a destination for transition events. Implementations must be
// safe for concurrent use; sends are best-effort and must not block the
// exit handler beyond their own I/O.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

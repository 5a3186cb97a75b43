package process

import (
	"fmt"
	"time"
)

// Phase enumerates the lifecycle states a managed slot moves through.
// Transitions are monotone per attempt: Stopped -> Starting -> Running ->
// (Syncing|Ready) -> Stopped|Error. Error may re-enter Starting via
// automatic restart.
type Phase int

const (
	PhaseStopped Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseSyncing
	PhaseReady
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseSyncing:
		return "syncing"
	case PhaseReady:
		return "ready"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Active reports whether the phase is Starting, Running or Syncing; Ready
// is not Active. Used by startup gates that must abort when the child dies
// mid-wait.
func (p Phase) Active() bool {
	return p == PhaseStarting || p == PhaseRunning || p == PhaseSyncing
}

// Live reports whether the phase describes a process past its spawn and not
// yet stopped or failed.
func (p Phase) Live() bool {
	return p == PhaseRunning || p == PhaseSyncing || p == PhaseReady
}

// Status is the tagged status variant for one slot. Progress is meaningful
// only when Phase is PhaseSyncing; ErrorMessage only when Phase is
// PhaseError.
type Status struct {
	Phase        Phase   `json:"phase"`
	Progress     float64 `json:"progress,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

func Stopped() Status  { return Status{Phase: PhaseStopped} }
func Starting() Status { return Status{Phase: PhaseStarting} }
func Running() Status  { return Status{Phase: PhaseRunning} }
func Ready() Status    { return Status{Phase: PhaseReady} }

func Syncing(progress float64) Status {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return Status{Phase: PhaseSyncing, Progress: progress}
}

func Errorf(format string, args ...any) Status {
	return Status{Phase: PhaseError, ErrorMessage: fmt.Sprintf(format, args...)}
}

// Info is the observable snapshot of a slot returned to callers.
type Info struct {
	Name         string `json:"name"`
	Status       Status `json:"status"`
	PID          int    `json:"pid,omitempty"`
	RestartCount int    `json:"restart_count"`
	LastError    string `json:"last_error,omitempty"`
}

// RestartPolicy controls automatic restart after a non-zero exit. Fixed per
// slot at registration.
type RestartPolicy struct {
	MaxRetries        int           `json:"max_retries" mapstructure:"max_retries"`
	InitialDelay      time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" mapstructure:"backoff_multiplier"`
}

// DefaultRestartPolicy mirrors the defaults the stack's children are
// registered with: five attempts starting at one second, doubling.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{MaxRetries: 5, InitialDelay: time.Second, BackoffMultiplier: 2.0}
}

// Delay computes the backoff delay before restart attempt n (1-based):
// InitialDelay * BackoffMultiplier^(n-1).
func (p RestartPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.BackoffMultiplier
	}
	return time.Duration(d)
}

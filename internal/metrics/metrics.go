// Package metrics exposes the supervisor's Prometheus collectors: child
// lifecycle counters, per-slot state gauges, sync progress and the
// synthesized overall stack state.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	childStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisor",
			Subsystem: "child",
			Name:      "starts_total",
			Help:      "Number of successful child spawns.",
		}, []string{"name"},
	)
	childRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisor",
			Subsystem: "child",
			Name:      "restarts_total",
			Help:      "Number of automatic crash restarts.",
		}, []string{"name"},
	)
	childStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisor",
			Subsystem: "child",
			Name:      "stops_total",
			Help:      "Number of observed child exits (clean, crashed or killed).",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisor",
			Subsystem: "child",
			Name:      "state_transitions_total",
			Help:      "Number of slot state transitions.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "supervisor",
			Subsystem: "child",
			Name:      "current_state",
			Help:      "Current state of slots (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	syncProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "supervisor",
			Subsystem: "child",
			Name:      "sync_progress",
			Help:      "Catch-up progress per slot while Syncing (0-1).",
		}, []string{"name"},
	)
	overallState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "supervisor",
			Subsystem: "stack",
			Name:      "overall_state",
			Help:      "Synthesized stack state (1 = current state, 0 = otherwise).",
		}, []string{"state"},
	)
)

// Register registers all metrics with the provided registerer. It is safe to
// call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{childStarts, childRestarts, childStops, stateTransitions, currentStates, syncProgress, overallState}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// Already registered is fine (allows double Register with the
			// default registry).
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until Register
// has been called.

func IncStart(name string) {
	if regOK.Load() {
		childStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		childRestarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		childStops.WithLabelValues(name).Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}

func SetSyncProgress(name string, progress float64) {
	if regOK.Load() {
		syncProgress.WithLabelValues(name).Set(progress)
	}
}

// knownOverallStates mirrors the orchestrator's OverallState values so a
// state change zeroes every other gauge row.
var knownOverallStates = []string{"stopped", "bootstrapping", "starting", "syncing", "synced", "error"}

func SetOverallState(state string) {
	if !regOK.Load() {
		return
	}
	for _, s := range knownOverallStates {
		var value float64
		if s == state {
			value = 1
		}
		overallState.WithLabelValues(s).Set(value)
	}
}

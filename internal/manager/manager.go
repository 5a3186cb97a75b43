// Package manager implements the process manager: a registry of named slots,
// each owning at most one live child, with restart policy enforcement, log
// capture, PID tracking and status event emission.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/peaceprotocol/node-supervisor/internal/env"
	"github.com/peaceprotocol/node-supervisor/internal/eventbus"
	"github.com/peaceprotocol/node-supervisor/internal/history"
	"github.com/peaceprotocol/node-supervisor/internal/logbuffer"
	"github.com/peaceprotocol/node-supervisor/internal/logger"
	"github.com/peaceprotocol/node-supervisor/internal/metrics"
	"github.com/peaceprotocol/node-supervisor/internal/pidregistry"
	"github.com/peaceprotocol/node-supervisor/internal/process"
)

// Options configures a Manager.
type Options struct {
	// PidFile is the path of the on-disk PID registry (managed_pids.json).
	PidFile string
	// Bus receives status and log events. Optional; the manager operates
	// correctly with no observer at all.
	Bus *eventbus.Bus
	// StopWindow overrides the graceful termination ceiling. Zero means
	// process.GracefulStopWindow. Tests shorten it.
	StopWindow time.Duration
	// ServicePorts are scanned for stray listeners by KillAllSync. Zero
	// value means pidregistry.DefaultServicePorts.
	ServicePorts []int
	// Log configures rotating per-child output files mirroring the
	// in-memory buffers. Zero value disables file logging.
	Log logger.Config
}

// Manager starts, stops and monitors the stack's child processes. It is
// singleton-per-process: the PID registry and orphan-kill routines assume a
// single owner of the managed children.
type Manager struct {
	mu           sync.Mutex
	slots        map[string]*slot
	bus          *eventbus.Bus
	registry     *pidregistry.Registry
	envM         *env.Env
	sinks        []history.Sink
	stopWindow   time.Duration
	servicePorts []int
	logCfg       logger.Config
}

// New returns a Manager. The PID registry file is not touched until the
// first spawn.
func New(opts Options) *Manager {
	window := opts.StopWindow
	if window <= 0 {
		window = process.GracefulStopWindow
	}
	ports := opts.ServicePorts
	if len(ports) == 0 {
		ports = pidregistry.DefaultServicePorts
	}
	return &Manager{
		slots:        make(map[string]*slot),
		bus:          opts.Bus,
		registry:     pidregistry.New(opts.PidFile),
		envM:         env.New(),
		stopWindow:   window,
		servicePorts: ports,
		logCfg:       opts.Log,
	}
}

// SetGlobalEnv merges KEY=VALUE pairs into the base environment every child
// is spawned with.
func (m *Manager) SetGlobalEnv(kvs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.envM
	for _, kv := range kvs {
		if k, v, ok := splitKV(kv); ok {
			e = e.WithSet(k, v)
		}
	}
	m.envM = e
}

// SetHistorySinks configures external lifecycle-event sinks. Passing none
// clears the list.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.mu.Lock()
	m.sinks = append([]history.Sink(nil), sinks...)
	m.mu.Unlock()
}

// Register creates a slot in Stopped state. Registering an existing name
// updates its restart policy only while no child is live.
func (m *Manager) Register(name string, policy process.RestartPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[name]; ok {
		if s.child == nil {
			s.policy = policy
		}
		return
	}
	m.slots[name] = m.newSlotLocked(name, policy)
}

// SetLineHook attaches a per-slot observer for raw output lines, invoked
// from the stream readers before event emission. Used by the orchestrator
// to parse bootstrap progress. No-op for an unknown name.
func (m *Manager) SetLineHook(name string, hook func(line string, stderr bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[name]; ok {
		s.lineHook = hook
	}
}

// Start transitions the slot to Starting, gracefully stops any existing
// child of the same name, spawns the new one and leaves the slot at least
// Running. The launch spec is retained for automatic restart. Unregistered
// names are registered implicitly with the default policy.
func (m *Manager) Start(name string, spec process.LaunchSpec) error {
	// Stop any prior child first; Stop is idempotent.
	_ = m.Stop(name)

	m.mu.Lock()
	s, ok := m.slots[name]
	if !ok {
		s = m.newSlotLocked(name, process.DefaultRestartPolicy())
		m.slots[name] = s
	}
	s.cancelRestartLocked()
	s.spec = spec
	s.userStopped = false
	s.restartCount = 0
	s.lastError = ""
	s.buf.Reset()
	m.setStatusLocked(s, process.Starting(), "")
	m.mu.Unlock()

	return m.spawn(s, spec)
}

// Stop sets user_stopped, moves the slot to Stopped and runs the graceful
// termination protocol on the live child, if any. Idempotent; unknown names
// return success.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	s, ok := m.slots[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	s.userStopped = true
	s.cancelRestartLocked()
	child := s.child
	s.child = nil
	s.closeWritersLocked()
	m.setStatusLocked(s, process.Stopped(), "")
	m.mu.Unlock()

	if child != nil {
		child.Stop(m.stopWindow)
		m.registry.Remove(child.PID())
	}
	return nil
}

// Status returns the observable snapshot for one slot.
func (m *Manager) Status(name string) (process.Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[name]
	if !ok {
		return process.Info{}, false
	}
	return s.infoLocked(), true
}

// AllStatus returns snapshots for every slot, sorted by name.
func (m *Manager) AllStatus() []process.Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]process.Info, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, s.infoLocked())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PIDs returns the current slot-name to PID mapping of live children. Used
// by the resource sampler.
func (m *Manager) PIDs() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.slots))
	for name, s := range m.slots {
		if s.child != nil {
			out[name] = s.child.PID()
		}
	}
	return out
}

// SetStatus externally advances a slot's status (used by health probes).
// No-op if the slot is absent.
func (m *Manager) SetStatus(name string, st process.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[name]; ok {
		m.setStatusLocked(s, st, "")
	}
}

// Logs returns the last n buffered output lines for a slot, oldest first.
func (m *Manager) Logs(name string, n int) []string {
	m.mu.Lock()
	s, ok := m.slots[name]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.buf.Last(n)
}

// ShutdownAll stops every slot in reverse dependency order, then any slot
// outside the canonical set, then clears the PID registry.
func (m *Manager) ShutdownAll() {
	for _, name := range ShutdownOrder {
		_ = m.Stop(name)
	}
	m.mu.Lock()
	var rest []string
	for name := range m.slots {
		if !inShutdownOrder(name) {
			rest = append(rest, name)
		}
	}
	m.mu.Unlock()
	sort.Strings(rest)
	for _, name := range rest {
		_ = m.Stop(name)
	}
	m.registry.Clear()
}

// KillAllSync is the synchronous, signal-safe variant of ShutdownAll used
// from exit paths: terminate every tracked PID plus any listener on the
// enumerated service ports, one shared graceful window, then force-kill
// survivors. It blocks on nothing but short syscalls and sleeps.
func (m *Manager) KillAllSync() {
	pids := m.registry.Snapshot()
	if fromPorts, err := pidregistry.PortsToPIDs(m.servicePorts); err == nil {
		pids = unionPIDs(pids, fromPorts)
	}
	pidregistry.Terminate(pids)
	m.registry.Clear()
}

// --- internals ---

func (m *Manager) newSlotLocked(name string, policy process.RestartPolicy) *slot {
	s := &slot{
		name:   name,
		policy: policy,
		buf:    logbuffer.New(0),
		status: process.Stopped(),
	}
	m.slots[name] = s
	return s
}

// spawn launches the child for s and attaches the monitor goroutine. Called
// without the manager mutex held.
func (m *Manager) spawn(s *slot, spec process.LaunchSpec) error {
	m.mu.Lock()
	mergedEnv := m.envM.Merge(spec.Env)
	m.mu.Unlock()

	child, err := process.Spawn(spec, mergedEnv, m.lineSink(s))
	if err != nil {
		msg := fmt.Sprintf("failed to spawn %q: %v", spec.Program, err)
		m.mu.Lock()
		s.lastError = msg
		m.setStatusLocked(s, process.Errorf("%s", msg), "")
		m.mu.Unlock()
		return fmt.Errorf("%s", msg)
	}

	m.mu.Lock()
	s.child = child
	s.startedAt = time.Now().UTC()
	s.lastError = ""
	if s.outW == nil && s.errW == nil {
		if outW, errW, err := m.logCfg.ChildWriters(s.name); err == nil {
			s.outW, s.errW = outW, errW
		}
	}
	m.setStatusLocked(s, process.Running(), "")
	m.mu.Unlock()

	m.registry.Add(child.PID())
	metrics.IncStart(s.name)
	m.recordTransition(s, child, history.EventSpawn, nil)
	go m.monitor(s, child)
	return nil
}

// lineSink feeds one child's output lines into the slot's log buffer, the
// optional per-slot hook, and the event bus.
func (m *Manager) lineSink(s *slot) process.LineFunc {
	return func(line string, stderr bool) {
		s.buf.Append(line, stderr)
		display := line
		if stderr {
			display = logbuffer.StderrPrefix + line
		}
		m.mu.Lock()
		st := s.status
		hook := s.lineHook
		w := s.outW
		if stderr {
			w = s.errW
		}
		m.mu.Unlock()
		if w != nil {
			_, _ = w.Write(append([]byte(line), '\n'))
		}
		if hook != nil {
			hook(line, stderr)
		}
		m.publish(s.name, st, display)
	}
}

// monitor reaps the child and applies the exit policy: clean exits and
// user-requested stops settle in Stopped; crashes schedule a backoff
// restart until the policy is exhausted.
func (m *Manager) monitor(s *slot, child *process.Child) {
	waitErr := child.Wait()
	m.registry.Remove(child.PID())
	code := child.ExitCode()
	metrics.IncStop(s.name)
	m.recordTransition(s, child, history.EventExit, waitErr)

	m.mu.Lock()
	if s.child != child {
		// Superseded by Stop or a newer Start; it owns the state now.
		m.mu.Unlock()
		return
	}
	s.child = nil
	if code == 0 || s.userStopped {
		s.closeWritersLocked()
		m.setStatusLocked(s, process.Stopped(), "")
		m.mu.Unlock()
		return
	}

	s.restartCount++
	attempt := s.restartCount
	policy := s.policy
	msg := fmt.Sprintf("process exited with code %d", code)
	s.lastError = msg
	if attempt > policy.MaxRetries {
		s.closeWritersLocked()
		m.setStatusLocked(s, process.Errorf("%s (max restarts %d reached)", msg, policy.MaxRetries), "")
		m.mu.Unlock()
		return
	}
	delay := policy.Delay(attempt)
	m.setStatusLocked(s, process.Errorf("%s (restarting in %s, attempt %d/%d)",
		msg, delay.Round(time.Millisecond), attempt, policy.MaxRetries), "")
	spec := s.spec
	s.restartTimer = time.AfterFunc(delay, func() { m.restartAfterBackoff(s, spec) })
	m.mu.Unlock()
	metrics.IncRestart(s.name)
}

// restartAfterBackoff fires at the scheduled wake. user_stopped is
// re-checked here: a Stop issued during the delay aborts the restart.
func (m *Manager) restartAfterBackoff(s *slot, spec process.LaunchSpec) {
	m.mu.Lock()
	if s.userStopped {
		m.mu.Unlock()
		return
	}
	s.restartTimer = nil
	m.setStatusLocked(s, process.Starting(), "Auto-restarting...")
	m.mu.Unlock()
	_ = m.spawn(s, spec)
}

// setStatusLocked records a status change and emits exactly one event for
// it. Caller holds the manager mutex; emission is a non-blocking channel
// send, never external I/O.
func (m *Manager) setStatusLocked(s *slot, st process.Status, logLine string) {
	if st == s.status && logLine == "" {
		return
	}
	prev := s.status
	s.status = st
	if prev.Phase != st.Phase {
		metrics.RecordStateTransition(s.name, prev.Phase.String(), st.Phase.String())
		metrics.SetCurrentState(s.name, prev.Phase.String(), false)
		metrics.SetCurrentState(s.name, st.Phase.String(), true)
	}
	if st.Phase == process.PhaseSyncing {
		metrics.SetSyncProgress(s.name, st.Progress)
	}
	m.publish(s.name, st, logLine)
}

// publish emits one event to the bus, dropping it when full or absent.
func (m *Manager) publish(name string, st process.Status, logLine string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		Name:         name,
		Phase:        st.Phase.String(),
		Progress:     st.Progress,
		ErrorMessage: st.ErrorMessage,
		LogLine:      logLine,
		At:           time.Now(),
	})
}

func (m *Manager) historySinks() []history.Sink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Sink(nil), m.sinks...)
}

// recordTransition flattens the slot's current state into one history
// event and fans it out to the configured sinks, best-effort.
func (m *Manager) recordTransition(s *slot, child *process.Child, typ history.EventType, exitErr error) {
	sinks := m.historySinks()
	if len(sinks) == 0 {
		return
	}
	m.mu.Lock()
	evt := history.Event{
		Type:         typ,
		OccurredAt:   time.Now().UTC(),
		Slot:         s.name,
		PID:          child.PID(),
		Phase:        s.status.Phase.String(),
		Progress:     s.status.Progress,
		RestartCount: s.restartCount,
		RunID:        history.RunID(child.PID(), s.startedAt),
	}
	m.mu.Unlock()
	if exitErr != nil {
		evt.ExitError = exitErr.Error()
	}
	for _, sink := range sinks {
		_ = sink.Send(context.Background(), evt)
	}
}

func splitKV(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			if i == 0 {
				return "", "", false
			}
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

func inShutdownOrder(name string) bool {
	for _, n := range ShutdownOrder {
		if n == name {
			return true
		}
	}
	return false
}

func unionPIDs(a, b []int) []int {
	seen := make(map[int]struct{}, len(a)+len(b))
	var out []int
	for _, set := range [][]int{a, b} {
		for _, pid := range set {
			if _, dup := seen[pid]; dup {
				continue
			}
			seen[pid] = struct{}{}
			out = append(out, pid)
		}
	}
	return out
}

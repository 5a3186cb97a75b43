package manager

import (
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/peaceprotocol/node-supervisor/internal/eventbus"
	"github.com/peaceprotocol/node-supervisor/internal/pidregistry"
	"github.com/peaceprotocol/node-supervisor/internal/process"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(Options{
		PidFile:    filepath.Join(t.TempDir(), "managed_pids.json"),
		StopWindow: 2 * time.Second,
	})
}

// waitForPhase polls until the slot reports the wanted phase or the deadline
// passes.
func waitForPhase(t *testing.T, m *Manager, name string, want process.Phase, timeout time.Duration) process.Info {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if info, ok := m.Status(name); ok && info.Status.Phase == want {
			return info
		}
		time.Sleep(20 * time.Millisecond)
	}
	info, _ := m.Status(name)
	t.Fatalf("slot %q never reached %v, last status %+v", name, want, info.Status)
	return process.Info{}
}

func TestRegisterCreatesStoppedSlot(t *testing.T) {
	m := newTestManager(t)
	m.Register(SlotNode, process.DefaultRestartPolicy())
	info, ok := m.Status(SlotNode)
	if !ok {
		t.Fatal("slot missing after Register")
	}
	if info.Status.Phase != process.PhaseStopped {
		t.Fatalf("fresh slot phase = %v", info.Status.Phase)
	}
}

func TestStartReachesRunningAndCapturesLogs(t *testing.T) {
	requireUnix(t)
	m := newTestManager(t)
	m.Register("echoer", process.DefaultRestartPolicy())
	err := m.Start("echoer", process.LaunchSpec{
		Program: "sh",
		Args:    []string{"-c", "echo hello; echo oops 1>&2; sleep 2"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	info := waitForPhase(t, m, "echoer", process.PhaseRunning, 2*time.Second)
	if info.PID <= 0 {
		t.Fatalf("no PID while Running: %+v", info)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.Logs("echoer", 0)) >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	logs := m.Logs("echoer", 0)
	if len(logs) < 2 {
		t.Fatalf("expected 2 captured lines, got %v", logs)
	}
	var sawOut, sawErr bool
	for _, l := range logs {
		if l == "hello" {
			sawOut = true
		}
		if strings.HasPrefix(l, "[stderr] ") && strings.Contains(l, "oops") {
			sawErr = true
		}
	}
	if !sawOut || !sawErr {
		t.Fatalf("log capture missing stream: %v", logs)
	}
	_ = m.Stop("echoer")
}

func TestSpawnFailureSetsError(t *testing.T) {
	requireUnix(t)
	m := newTestManager(t)
	err := m.Start("ghost", process.LaunchSpec{Program: "/no/such/binary"})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	info, _ := m.Status("ghost")
	if info.Status.Phase != process.PhaseError {
		t.Fatalf("phase after spawn failure = %v", info.Status.Phase)
	}
	if info.LastError == "" {
		t.Fatal("LastError empty after spawn failure")
	}
}

func TestCleanExitSettlesStopped(t *testing.T) {
	requireUnix(t)
	m := newTestManager(t)
	if err := m.Start("oneshot", process.LaunchSpec{Program: "true"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	info := waitForPhase(t, m, "oneshot", process.PhaseStopped, 2*time.Second)
	if info.RestartCount != 0 {
		t.Fatalf("clean exit must not count as a restart: %+v", info)
	}
}

func TestStopIsIdempotentAndUnknownNameSucceeds(t *testing.T) {
	m := newTestManager(t)
	if err := m.Stop("never-registered"); err != nil {
		t.Fatalf("Stop(unknown) = %v", err)
	}
	m.Register("idle", process.DefaultRestartPolicy())
	if err := m.Stop("idle"); err != nil {
		t.Fatalf("Stop(stopped slot) = %v", err)
	}
	if err := m.Stop("idle"); err != nil {
		t.Fatalf("second Stop = %v", err)
	}
}

func TestStopKillsProcessAndPreventsRestart(t *testing.T) {
	requireUnix(t)
	m := newTestManager(t)
	m.Register("looper", process.RestartPolicy{MaxRetries: 5, InitialDelay: 10 * time.Millisecond, BackoffMultiplier: 2})
	if err := m.Start("looper", process.LaunchSpec{Program: "sleep", Args: []string{"30"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	info := waitForPhase(t, m, "looper", process.PhaseRunning, 2*time.Second)
	pid := info.PID

	if err := m.Stop("looper"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// The former PID must be gone (SIGTERM ends sleep promptly).
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if syscall.Kill(pid, 0) != nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if syscall.Kill(pid, 0) == nil {
		t.Fatalf("pid %d still alive after Stop", pid)
	}
	// No restart may occur regardless of the (signal) exit code.
	time.Sleep(200 * time.Millisecond)
	got, _ := m.Status("looper")
	if got.Status.Phase != process.PhaseStopped || got.PID != 0 {
		t.Fatalf("slot not settled after Stop: %+v", got)
	}
}

func TestCrashLoopExhaustsPolicy(t *testing.T) {
	requireUnix(t)
	m := newTestManager(t)
	m.Register("flappy", process.RestartPolicy{MaxRetries: 2, InitialDelay: 20 * time.Millisecond, BackoffMultiplier: 2})
	if err := m.Start("flappy", process.LaunchSpec{Program: "sh", Args: []string{"-c", "exit 1"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		info, _ := m.Status("flappy")
		if info.Status.Phase == process.PhaseError &&
			strings.Contains(info.Status.ErrorMessage, "max restarts 2 reached") {
			if info.RestartCount != 3 {
				t.Fatalf("restart count = %d, want 3 (2 retries + final failure)", info.RestartCount)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	info, _ := m.Status("flappy")
	t.Fatalf("slot never reached terminal error, last: %+v", info)
}

func TestStopDuringRestartWaitAbortsRestart(t *testing.T) {
	requireUnix(t)
	m := newTestManager(t)
	m.Register("crasher", process.RestartPolicy{MaxRetries: 3, InitialDelay: 500 * time.Millisecond, BackoffMultiplier: 1})
	if err := m.Start("crasher", process.LaunchSpec{Program: "sh", Args: []string{"-c", "exit 1"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Wait for the crash to be observed and the restart to be scheduled.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info, _ := m.Status("crasher")
		if info.Status.Phase == process.PhaseError {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := m.Stop("crasher"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Past the scheduled wake: the restart must have been suppressed.
	time.Sleep(700 * time.Millisecond)
	info, _ := m.Status("crasher")
	if info.Status.Phase != process.PhaseStopped {
		t.Fatalf("restart fired despite Stop: %+v", info)
	}
}

func TestSetStatusAdvancesAndIgnoresUnknown(t *testing.T) {
	m := newTestManager(t)
	m.Register(SlotNode, process.DefaultRestartPolicy())
	m.SetStatus(SlotNode, process.Syncing(0.42))
	info, _ := m.Status(SlotNode)
	if info.Status.Phase != process.PhaseSyncing || info.Status.Progress != 0.42 {
		t.Fatalf("SetStatus not applied: %+v", info.Status)
	}
	// Unknown name must be a no-op, not a panic or a new slot.
	m.SetStatus("phantom", process.Ready())
	if _, ok := m.Status("phantom"); ok {
		t.Fatal("SetStatus created a slot for an unknown name")
	}
}

func TestStatusEventsReachTheBus(t *testing.T) {
	requireUnix(t)
	bus := eventbus.New(64)
	m := New(Options{
		PidFile:    filepath.Join(t.TempDir(), "managed_pids.json"),
		Bus:        bus,
		StopWindow: 2 * time.Second,
	})
	m.Register("noisy", process.DefaultRestartPolicy())
	if err := m.Start("noisy", process.LaunchSpec{Program: "sh", Args: []string{"-c", "echo line"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var phases []string
	var sawLogLine bool
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-bus.Events():
			if e.LogLine == "line" {
				sawLogLine = true
			}
			if e.LogLine == "" {
				phases = append(phases, e.Phase)
			}
			if e.Phase == "stopped" {
				if !sawLogLine {
					t.Fatal("log line never emitted")
				}
				want := []string{"starting", "running", "stopped"}
				if len(phases) != len(want) {
					t.Fatalf("phase events = %v, want %v", phases, want)
				}
				for i := range want {
					if phases[i] != want[i] {
						t.Fatalf("phase events = %v, want %v", phases, want)
					}
				}
				return
			}
		case <-deadline:
			t.Fatalf("never observed stopped event; phases=%v", phases)
		}
	}
}

func TestNoSubscriberDoesNotBlock(t *testing.T) {
	requireUnix(t)
	// Tiny bus, nobody reading: every publish past capacity must be dropped
	// without stalling the stream readers or the exit handler.
	bus := eventbus.New(1)
	m := New(Options{
		PidFile:    filepath.Join(t.TempDir(), "managed_pids.json"),
		Bus:        bus,
		StopWindow: 2 * time.Second,
	})
	if err := m.Start("chatty", process.LaunchSpec{Program: "sh", Args: []string{"-c", "seq 1 2000"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForPhase(t, m, "chatty", process.PhaseStopped, 5*time.Second)
}

func TestPidRegistryFollowsLifecycle(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "managed_pids.json")
	m := New(Options{PidFile: pidFile, StopWindow: 2 * time.Second})
	if err := m.Start("tracked", process.LaunchSpec{Program: "sleep", Args: []string{"30"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	info := waitForPhase(t, m, "tracked", process.PhaseRunning, 2*time.Second)
	pids, err := pidregistry.Load(pidFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(pids) != 1 || pids[0] != info.PID {
		t.Fatalf("registry = %v, want [%d]", pids, info.PID)
	}
	_ = m.Stop("tracked")
	pids, err = pidregistry.Load(pidFile)
	if err != nil {
		t.Fatalf("Load after stop: %v", err)
	}
	if len(pids) != 0 {
		t.Fatalf("registry not emptied after stop: %v", pids)
	}
}

func TestShutdownAllStopsEverythingAndClearsRegistry(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "managed_pids.json")
	m := New(Options{PidFile: pidFile, StopWindow: 2 * time.Second})
	for _, name := range []string{SlotNode, SlotOgmios, SlotKupo} {
		if err := m.Start(name, process.LaunchSpec{Program: "sleep", Args: []string{"30"}}); err != nil {
			t.Fatalf("Start(%s): %v", name, err)
		}
		waitForPhase(t, m, name, process.PhaseRunning, 2*time.Second)
	}
	m.ShutdownAll()
	for _, info := range m.AllStatus() {
		if info.Status.Phase != process.PhaseStopped {
			t.Fatalf("slot %s not stopped after ShutdownAll: %+v", info.Name, info.Status)
		}
	}
	if pids, _ := pidregistry.Load(pidFile); len(pids) != 0 {
		t.Fatalf("registry survived ShutdownAll: %v", pids)
	}
}

func TestAllStatusSorted(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{SlotOgmios, SlotBackend, SlotNode} {
		m.Register(name, process.DefaultRestartPolicy())
	}
	infos := m.AllStatus()
	if len(infos) != 3 {
		t.Fatalf("len = %d", len(infos))
	}
	for i := 1; i < len(infos); i++ {
		if infos[i-1].Name > infos[i].Name {
			t.Fatalf("AllStatus not sorted: %v", infos)
		}
	}
}

//go:build !windows

package pidregistry

import (
	"syscall"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// GracefulWindow is the fixed ceiling for the terminate-then-kill protocol,
// chosen to give cardano-node's on-disk ledger time to flush.
const GracefulWindow = 30 * time.Second

// pollInterval is how often liveness is re-checked during GracefulWindow.
const pollInterval = 500 * time.Millisecond

// PortsToPIDs resolves listeners on the given TCP ports to owning PIDs using
// native process/connection introspection, replacing the original
// implementation's shell-out to `fuser`.
func PortsToPIDs(ports []int) ([]int, error) {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return nil, err
	}
	want := make(map[uint32]struct{}, len(ports))
	for _, p := range ports {
		want[uint32(p)] = struct{}{}
	}
	seen := make(map[int]struct{})
	var pids []int
	for _, c := range conns {
		if c.Pid == 0 {
			continue
		}
		if _, ok := want[c.Laddr.Port]; !ok {
			continue
		}
		pid := int(c.Pid)
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Terminate runs the graceful termination protocol against each PID:
// SIGTERM, poll liveness every 500ms for up to GracefulWindow, SIGKILL any
// survivor. It never blocks longer than GracefulWindow plus one poll tick.
func Terminate(pids []int) {
	if len(pids) == 0 {
		return
	}
	for _, pid := range pids {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}
	deadline := time.Now().Add(GracefulWindow)
	alive := make(map[int]bool, len(pids))
	for _, pid := range pids {
		alive[pid] = true
	}
	for time.Now().Before(deadline) {
		remaining := 0
		for pid, still := range alive {
			if !still {
				continue
			}
			if syscall.Kill(pid, 0) != nil {
				alive[pid] = false
				continue
			}
			remaining++
		}
		if remaining == 0 {
			return
		}
		time.Sleep(pollInterval)
	}
	for pid, still := range alive {
		if still {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	}
}

// RecoverOrphans performs boot-time orphan recovery per the supervisor's
// crash-recovery contract: read the on-disk registry, union it with any
// process currently listening on the enumerated service ports, terminate
// the union, then delete the registry file so a crashed prior run never
// leaks a child into the new one.
func RecoverOrphans(registryPath string, servicePorts []int) error {
	fromRegistry, err := Load(registryPath)
	if err != nil {
		return err
	}
	fromPorts, err := PortsToPIDs(servicePorts)
	if err != nil {
		// Port scanning is best-effort: proceed with the registry alone
		// rather than failing boot over a transient introspection error.
		fromPorts = nil
	}
	seen := make(map[int]struct{}, len(fromRegistry)+len(fromPorts))
	var union []int
	for _, p := range fromRegistry {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			union = append(union, p)
		}
	}
	for _, p := range fromPorts {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			union = append(union, p)
		}
	}
	Terminate(union)
	return Delete(registryPath)
}

//go:build !windows

package process

import (
	"bytes"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

const (
	sigTerminate = syscall.SIGTERM
	sigKill      = syscall.SIGKILL
)

// configureSysProcAttr places the child in its own process group so a single
// signal to -pid reaches the whole tree the child spawns.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the child's process group, falling back to the
// single PID when the group signal is refused.
func signalGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = syscall.Kill(pid, sig)
	}
}

// pidAlive reports whether pid refers to a live, non-zombie process.
func pidAlive(pid int) bool {
	if syscall.Kill(pid, 0) != nil {
		return false
	}
	return !isZombie(pid)
}

// isZombie returns true if /proc/<pid>/status reports a zombie state (Z).
// On platforms without /proc the read fails and the check is a no-op.
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

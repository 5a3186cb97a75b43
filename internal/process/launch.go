package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
)

// LaunchSpec describes how to (re)spawn a child. It is retained by the
// owning slot so automatic restart can reissue the exact same invocation.
//
// Two launch modes exist: a bundled sidecar resolved next to the supervisor
// binary (Sidecar=true, Program is the bare sidecar name), or an arbitrary
// program with optional working directory and environment overlay.
type LaunchSpec struct {
	Program string   `json:"program"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"` // KEY=VALUE overlay, merged over the base env
	Sidecar bool     `json:"sidecar,omitempty"`
}

// Sidecar builds a spec for a bundled executable shipped alongside the
// supervisor binary.
func Sidecar(name string, args ...string) LaunchSpec {
	return LaunchSpec{Program: name, Args: args, Sidecar: true}
}

// Command builds an *exec.Cmd for the spec. mergedEnv, when non-nil, fully
// replaces the inherited environment (callers merge overlays beforehand).
func (s LaunchSpec) Command(mergedEnv []string) (*exec.Cmd, error) {
	program := s.Program
	if program == "" {
		return nil, errors.New("launch spec has no program")
	}
	if s.Sidecar {
		resolved, err := resolveSidecar(program)
		if err != nil {
			return nil, err
		}
		program = resolved
	}
	// #nosec G204 -- programs come from the closed launch-spec set, not user input
	cmd := exec.Command(program, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	configureSysProcAttr(cmd)
	return cmd, nil
}

// resolveSidecar locates a bundled executable in the directory holding the
// supervisor binary, falling back to PATH lookup so development runs work
// without a packaged layout.
func resolveSidecar(name string) (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), name)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}
	return exec.LookPath(name)
}

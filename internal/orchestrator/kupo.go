package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/peaceprotocol/node-supervisor/internal/manager"
	"github.com/peaceprotocol/node-supervisor/internal/process"
)

// patternSidecarFile records the pattern set a kupo workdir was indexed
// with. Kupo refuses to start when its on-disk patterns differ from the
// command line, so a changed set forces a re-index from genesis.
const patternSidecarFile = "match-patterns.json"

func (o *Orchestrator) startKupo() error {
	workdir := o.cfg.KupoDBDir()
	patterns := o.cfg.MatchPatterns()
	if err := reconcilePatterns(workdir, patterns); err != nil {
		return err
	}
	args := []string{
		"--node-socket", o.cfg.SocketPath(),
		"--node-config", filepath.Join(o.cfg.ConfigDir(), "config.json"),
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(o.cfg.KupoPort),
		"--workdir", workdir,
		"--since", "origin",
	}
	for _, p := range patterns {
		args = append(args, "--match", p)
	}
	return o.mgr.Start(manager.SlotKupo, process.Sidecar("kupo", args...))
}

// reconcilePatterns compares the desired pattern set against the workdir's
// sidecar file. On any difference (or a missing sidecar) the whole workdir
// is deleted and recreated, and the desired set is written before spawn.
func reconcilePatterns(workdir string, desired []string) error {
	sidecar := filepath.Join(workdir, patternSidecarFile)
	if existing, err := readPatterns(sidecar); err == nil && equalPatterns(existing, desired) {
		return nil
	}
	if err := os.RemoveAll(workdir); err != nil {
		return fmt.Errorf("reset kupo workdir: %w", err)
	}
	if err := os.MkdirAll(workdir, 0o750); err != nil {
		return fmt.Errorf("create kupo workdir: %w", err)
	}
	b, err := json.Marshal(desired)
	if err != nil {
		return err
	}
	if err := os.WriteFile(sidecar, b, 0o644); err != nil {
		return fmt.Errorf("write pattern sidecar: %w", err)
	}
	return nil
}

func readPatterns(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var patterns []string
	if err := json.Unmarshal(b, &patterns); err != nil {
		return nil, err
	}
	return patterns, nil
}

func equalPatterns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Package pidregistry persists the set of PIDs owned by the supervisor to
// disk and recovers orphaned children left behind by an abrupt crash of a
// previous run.
package pidregistry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DefaultServicePorts are the well-known listener ports scanned for orphans:
// backend 3001, ogmios 1337, kupo 1442. The running services may be
// reconfigured onto other ports, but the scan stays fixed so it covers the
// defaults of a previous run.
var DefaultServicePorts = []int{3001, 1337, 1442}

// Registry tracks the PIDs currently owned by the supervisor and mirrors
// them to a JSON file under path. The on-disk format is a bare JSON array
// of unsigned integers, matching the original implementation's
// managed_pids.json exactly.
type Registry struct {
	mu   sync.Mutex
	path string
	pids map[int]struct{}
}

// New returns a Registry backed by the file at path. The file is not
// touched until the first Add, Remove or Clear.
func New(path string) *Registry {
	return &Registry{path: path, pids: make(map[int]struct{})}
}

// Add records pid as owned by the supervisor and rewrites the registry
// file. Write-through is best-effort: a failure to persist is swallowed,
// matching the "best-effort" write-through contract.
func (r *Registry) Add(pid int) {
	if pid <= 0 {
		return
	}
	r.mu.Lock()
	r.pids[pid] = struct{}{}
	r.mu.Unlock()
	_ = r.flush()
}

// Remove drops pid from the tracked set and rewrites the registry file.
// When no PIDs remain, the file is deleted rather than rewritten empty.
func (r *Registry) Remove(pid int) {
	r.mu.Lock()
	delete(r.pids, pid)
	r.mu.Unlock()
	_ = r.flush()
}

// Clear forgets every tracked PID and removes the registry file.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.pids = make(map[int]struct{})
	r.mu.Unlock()
	_ = r.flush()
}

// Snapshot returns the currently tracked PIDs in ascending order.
func (r *Registry) Snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.pids))
	for p := range r.pids {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// flush serializes the current PID set to disk, or removes the file when
// the set is empty.
func (r *Registry) flush() error {
	r.mu.Lock()
	pids := make([]int, 0, len(r.pids))
	for p := range r.pids {
		pids = append(pids, p)
	}
	path := r.path
	r.mu.Unlock()
	sort.Ints(pids)

	if len(pids) == 0 {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	b, err := json.Marshal(pids)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Load reads the on-disk registry, returning an empty slice if the file
// does not exist.
func Load(path string) ([]int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var pids []int
	if err := json.Unmarshal(b, &pids); err != nil {
		return nil, err
	}
	return pids, nil
}

// Delete removes the on-disk registry file, ignoring a not-exist error.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

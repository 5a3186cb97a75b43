package orchestrator

import (
	"github.com/peaceprotocol/node-supervisor/internal/manager"
	"github.com/peaceprotocol/node-supervisor/internal/process"
)

// startBackend spawns the Node.js backend as an arbitrary program with its
// environment derived from configuration. Only called when a backend is
// configured.
func (o *Orchestrator) startBackend() error {
	b := o.cfg.Backend
	return o.mgr.Start(manager.SlotBackend, process.LaunchSpec{
		Program: b.Program,
		Args:    b.Args,
		WorkDir: b.Dir,
		Env:     o.cfg.BackendEnv(),
	})
}

package orchestrator

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/peaceprotocol/node-supervisor/internal/healthprobes"
	"github.com/peaceprotocol/node-supervisor/internal/manager"
	"github.com/peaceprotocol/node-supervisor/internal/process"
)

func (o *Orchestrator) startOgmios() error {
	args := []string{
		"--node-socket", o.cfg.SocketPath(),
		"--node-config", filepath.Join(o.cfg.ConfigDir(), "config.json"),
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(o.cfg.OgmiosPort),
	}
	return o.mgr.Start(manager.SlotOgmios, process.Sidecar("ogmios", args...))
}

// awaitOgmios blocks until Ogmios answers its health endpoint, or the
// ogmios process dies, or ctx is cancelled.
func (o *Orchestrator) awaitOgmios(ctx context.Context) error {
	url := o.cfg.OgmiosURL()
	return o.waitGate(ctx, manager.SlotOgmios, func() bool {
		ok, err := healthprobes.OgmiosHealthy(ctx, url)
		return err == nil && ok
	}, ErrOgmiosExitedEarly)
}

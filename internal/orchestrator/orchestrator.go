// Package orchestrator drives the dependency-ordered start and stop
// sequences for the managed stack, with readiness gates between steps:
// mithril-bootstrap -> cardano-node -> ogmios -> kupo (+ backend).
package orchestrator

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/peaceprotocol/node-supervisor/internal/config"
	"github.com/peaceprotocol/node-supervisor/internal/manager"
	"github.com/peaceprotocol/node-supervisor/internal/mithrilclient"
	"github.com/peaceprotocol/node-supervisor/internal/process"
)

// defaultPollInterval is the cadence of startup gates and the background
// refresh loop.
const defaultPollInterval = 5 * time.Second

// Sentinel errors surfaced by the start sequence. The messages are stable
// and user-visible.
var (
	ErrBootstrapRequired = errors.New("chain data not found - bootstrap required")
	ErrNodeExitedEarly   = errors.New("cardano-node exited before creating its socket")
	ErrOgmiosExitedEarly = errors.New("ogmios exited before becoming healthy")
)

// Orchestrator issues high-level commands to the process manager and gates
// progression on per-service readiness probes. It never owns process state
// itself; the manager's slot map stays the single source of truth.
type Orchestrator struct {
	cfg *config.Config
	mgr *manager.Manager
	// resources holds the bundled node config tree, one directory per
	// network name.
	resources fs.FS
	log       *slog.Logger

	pollInterval time.Duration

	mu            sync.Mutex
	refreshCancel context.CancelFunc

	// BootstrapProgress, when set, receives parsed mithril-client progress
	// reports. Assign before StartBootstrap.
	BootstrapProgress func(mithrilclient.Progress)
}

// New returns an Orchestrator and registers the stack's slots with the
// manager, all in Stopped state.
func New(cfg *config.Config, mgr *manager.Manager, resources fs.FS) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		mgr:          mgr,
		resources:    resources,
		log:          slog.Default(),
		pollInterval: defaultPollInterval,
	}
	for _, name := range []string{manager.SlotNode, manager.SlotOgmios, manager.SlotKupo, manager.SlotBackend} {
		mgr.Register(name, process.DefaultRestartPolicy())
	}
	// The bootstrap client is one-shot: a failed download should surface,
	// not flap.
	mgr.Register(manager.SlotMithril, process.RestartPolicy{MaxRetries: 0, InitialDelay: time.Second, BackoffMultiplier: 1})
	return o
}

// StartStack runs the full start sequence. A failure at any step returns
// that step's error and leaves the partial stack running for inspection;
// cleanup is an explicit StopStack.
func (o *Orchestrator) StartStack(ctx context.Context) error {
	if !o.HasChainData() {
		return ErrBootstrapRequired
	}
	if err := o.startNode(); err != nil {
		return err
	}
	if err := o.awaitSocket(ctx); err != nil {
		return err
	}
	if err := o.startOgmios(); err != nil {
		return err
	}
	if err := o.awaitOgmios(ctx); err != nil {
		return err
	}
	if err := o.startKupo(); err != nil {
		return err
	}
	if o.cfg.Backend != nil {
		if err := o.startBackend(); err != nil {
			return err
		}
	}
	return nil
}

// StopStack stops every slot in reverse dependency order and clears the PID
// registry.
func (o *Orchestrator) StopStack() {
	o.StopRefresh()
	o.mgr.ShutdownAll()
}

// slotActive reports whether the named slot is launching or alive right now.
func (o *Orchestrator) slotActive(name string) bool {
	info, ok := o.mgr.Status(name)
	return ok && info.Status.Phase.Active()
}

// waitGate polls check every pollInterval with no wall-clock ceiling: ledger
// replay can take hours on mainnet. It fails with earlyExit as soon as the
// watched slot leaves a live state, and with ctx.Err on cancellation.
func (o *Orchestrator) waitGate(ctx context.Context, slot string, check func() bool, earlyExit error) error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		if check() {
			return nil
		}
		if !o.slotActive(slot) {
			return earlyExit
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StartRefresh launches the background probe loop that advances slot
// statuses (Running -> Syncing{p} -> Ready) from the services' health
// endpoints. Safe to call once; subsequent calls are no-ops until
// StopRefresh.
func (o *Orchestrator) StartRefresh(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.refreshCancel != nil {
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	o.refreshCancel = cancel
	go o.refreshLoop(rctx)
}

// StopRefresh stops the background probe loop if running.
func (o *Orchestrator) StopRefresh() {
	o.mu.Lock()
	cancel := o.refreshCancel
	o.refreshCancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.refreshOnce(ctx)
		}
	}
}

package orchestrator

import (
	"context"

	"github.com/peaceprotocol/node-supervisor/internal/healthprobes"
	"github.com/peaceprotocol/node-supervisor/internal/manager"
	"github.com/peaceprotocol/node-supervisor/internal/metrics"
	"github.com/peaceprotocol/node-supervisor/internal/process"
)

// OverallState is the synthesized state of the whole stack.
type OverallState string

const (
	OverallStopped       OverallState = "stopped"
	OverallBootstrapping OverallState = "bootstrapping"
	OverallStarting      OverallState = "starting"
	OverallSyncing       OverallState = "syncing"
	OverallSynced        OverallState = "synced"
	OverallError         OverallState = "error"
)

// syncedThreshold is the networkSynchronization value above which the chain
// is considered caught up.
const syncedThreshold = 0.999

// NodeStatus is the aggregate snapshot returned to UI layers.
type NodeStatus struct {
	Overall        OverallState   `json:"overall"`
	SyncProgress   float64        `json:"sync_progress"`
	TipSlot        uint64         `json:"tip_slot,omitempty"`
	TipHeight      uint64         `json:"tip_height,omitempty"`
	Network        string         `json:"network"`
	Processes      []process.Info `json:"processes"`
	NeedsBootstrap bool           `json:"needs_bootstrap"`
}

// NodeStatus synthesizes the overall state from the per-slot statuses,
// querying Ogmios for sync progress when it is reachable.
func (o *Orchestrator) NodeStatus(ctx context.Context) NodeStatus {
	st := NodeStatus{
		Network:        string(o.cfg.Network),
		Processes:      o.mgr.AllStatus(),
		NeedsBootstrap: !o.HasChainData(),
	}
	st.Overall = o.overallState(ctx, &st)
	metrics.SetOverallState(string(st.Overall))
	return st
}

func (o *Orchestrator) overallState(ctx context.Context, st *NodeStatus) OverallState {
	if o.slotActive(manager.SlotMithril) {
		return OverallBootstrapping
	}
	for _, info := range st.Processes {
		if info.Status.Phase == process.PhaseError {
			return OverallError
		}
	}
	node, _ := o.mgr.Status(manager.SlotNode)
	if !node.Status.Phase.Live() {
		return OverallStopped
	}
	ogmios, _ := o.mgr.Status(manager.SlotOgmios)
	if ogmios.Status.Phase == process.PhaseRunning || ogmios.Status.Phase == process.PhaseReady {
		if h, err := healthprobes.Ogmios(ctx, o.cfg.OgmiosURL()); err == nil {
			st.SyncProgress = h.NetworkSynchronization
			st.TipSlot = h.LastKnownTip.Slot
			st.TipHeight = h.LastKnownTip.Height
			if h.NetworkSynchronization >= syncedThreshold {
				return OverallSynced
			}
			return OverallSyncing
		}
	}
	return OverallStarting
}

// refreshOnce advances slot statuses from the services' health endpoints.
// A probe failure advances nothing: the existing status stands and the next
// tick retries.
func (o *Orchestrator) refreshOnce(ctx context.Context) {
	if info, ok := o.mgr.Status(manager.SlotOgmios); ok && info.Status.Phase.Live() {
		if h, err := healthprobes.Ogmios(ctx, o.cfg.OgmiosURL()); err == nil {
			o.mgr.SetStatus(manager.SlotOgmios, process.Ready())
			if node, ok := o.mgr.Status(manager.SlotNode); ok && node.Status.Phase.Live() {
				if h.NetworkSynchronization >= syncedThreshold {
					o.mgr.SetStatus(manager.SlotNode, process.Ready())
				} else {
					o.mgr.SetStatus(manager.SlotNode, process.Syncing(h.NetworkSynchronization))
				}
			}
		}
	}
	if info, ok := o.mgr.Status(manager.SlotKupo); ok && info.Status.Phase.Live() {
		// ErrMetricMissing (and any other probe failure) leaves the slot
		// untouched; kupo stays merely Running until the metrics reappear.
		if p, err := healthprobes.KupoProgress(ctx, o.cfg.KupoURL()); err == nil {
			if p >= 1 {
				o.mgr.SetStatus(manager.SlotKupo, process.Ready())
			} else {
				o.mgr.SetStatus(manager.SlotKupo, process.Syncing(p))
			}
		}
	}
	if o.cfg.Backend == nil {
		return
	}
	if info, ok := o.mgr.Status(manager.SlotBackend); ok && info.Status.Phase.Live() {
		if ok, err := healthprobes.Backend(ctx, o.cfg.BackendURL()); err == nil && ok {
			o.mgr.SetStatus(manager.SlotBackend, process.Ready())
		}
	}
}

package orchestrator

import (
	"context"
	"fmt"
	"os"

	"github.com/peaceprotocol/node-supervisor/internal/manager"
	"github.com/peaceprotocol/node-supervisor/internal/mithrilclient"
	"github.com/peaceprotocol/node-supervisor/internal/process"
)

// StartBootstrap selects the latest snapshot digest from the aggregator and
// spawns mithril-client to download and verify it into the node-db
// directory. Progress is parsed from the client's JSON stdout: the mithril
// slot advances through Syncing{p} and each report is forwarded to
// BootstrapProgress when set.
func (o *Orchestrator) StartBootstrap(ctx context.Context) error {
	if err := os.MkdirAll(o.cfg.NodeDBDir(), 0o750); err != nil {
		return fmt.Errorf("create node db dir: %w", err)
	}
	digest, err := mithrilclient.FetchLatestDigest(ctx, o.cfg.MithrilAggregatorURL())
	if err != nil {
		return err
	}
	args := mithrilclient.DownloadArgs(
		digest,
		o.cfg.MithrilAggregatorURL(),
		o.cfg.MithrilGenesisVKey(),
		o.cfg.NodeDBDir(),
	)
	// Attach the parser before spawning so the first progress line is never
	// missed.
	o.mgr.SetLineHook(manager.SlotMithril, o.onMithrilLine)
	return o.mgr.Start(manager.SlotMithril, process.Sidecar("mithril-client", args...))
}

// onMithrilLine parses one stdout line from mithril-client. Non-progress
// lines are ignored; the log buffer already retains them.
func (o *Orchestrator) onMithrilLine(line string, stderr bool) {
	if stderr {
		return
	}
	p, ok := mithrilclient.ParseProgress(line)
	if !ok {
		return
	}
	if p.Stage == mithrilclient.StageComplete {
		o.mgr.SetStatus(manager.SlotMithril, process.Ready())
	} else {
		o.mgr.SetStatus(manager.SlotMithril, process.Syncing(p.ProgressPercent))
	}
	o.mu.Lock()
	cb := o.BootstrapProgress
	o.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

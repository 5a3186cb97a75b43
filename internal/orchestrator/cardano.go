package orchestrator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/peaceprotocol/node-supervisor/internal/manager"
	"github.com/peaceprotocol/node-supervisor/internal/process"
)

// nodeConfigFiles are the bundled resources materialized into the
// per-network config directory before the node starts.
var nodeConfigFiles = []string{
	"config.json",
	"topology.json",
	"byron-genesis.json",
	"shelley-genesis.json",
	"alonzo-genesis.json",
	"conway-genesis.json",
	"peer-snapshot.json",
}

// HasChainData reports whether the node database has been bootstrapped.
// The Mithril v1 backend extracts into node-db/db/, so the markers are
// checked there.
func (o *Orchestrator) HasChainData() bool {
	db := o.cfg.NodeDatabaseDir()
	if _, err := os.Stat(filepath.Join(db, "protocolMagicId")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(db, "immutable")); err == nil {
		return true
	}
	return false
}

// startNode materializes config files, prepares the database directory,
// clears stale socket and lock files from a prior run, and spawns the node.
func (o *Orchestrator) startNode() error {
	if err := o.ensureConfigFiles(); err != nil {
		return err
	}
	dbDir := o.cfg.NodeDatabaseDir()
	if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return fmt.Errorf("create node db dir: %w", err)
	}
	// cardano-node recreates both once it is ready.
	_ = os.Remove(o.cfg.SocketPath())
	_ = os.Remove(filepath.Join(dbDir, "lock"))

	return o.mgr.Start(manager.SlotNode, process.Sidecar("cardano-node", o.nodeArgs()...))
}

func (o *Orchestrator) nodeArgs() []string {
	configDir := o.cfg.ConfigDir()
	return []string{
		"run",
		"--config", filepath.Join(configDir, "config.json"),
		"--topology", filepath.Join(configDir, "topology.json"),
		"--database-path", o.cfg.NodeDatabaseDir(),
		"--socket-path", o.cfg.SocketPath(),
	}
}

// ensureConfigFiles copies the bundled config set for the current network
// into the config directory, skipping files that already exist. A file
// missing from the bundle is logged and skipped rather than failing the
// start: operators may maintain the config directory by hand.
func (o *Orchestrator) ensureConfigFiles() error {
	configDir := o.cfg.ConfigDir()
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	for _, name := range nodeConfigFiles {
		dst := filepath.Join(configDir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		src := filepath.Join(string(o.cfg.Network), name)
		data, err := fs.ReadFile(o.resources, src)
		if err != nil {
			o.log.Warn("bundled config file not found", "file", name, "network", o.cfg.Network)
			continue
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// awaitSocket blocks until the node's IPC socket exists, or the node leaves
// a live state, or ctx is cancelled.
func (o *Orchestrator) awaitSocket(ctx context.Context) error {
	socket := o.cfg.SocketPath()
	return o.waitGate(ctx, manager.SlotNode, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, ErrNodeExitedEarly)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	nodesupervisor "github.com/peaceprotocol/node-supervisor"
	"github.com/peaceprotocol/node-supervisor/internal/manager"
	"github.com/peaceprotocol/node-supervisor/internal/mithrilclient"
	"github.com/peaceprotocol/node-supervisor/internal/orchestrator"
	"github.com/peaceprotocol/node-supervisor/internal/pidregistry"
	"github.com/peaceprotocol/node-supervisor/internal/process"
	"github.com/peaceprotocol/node-supervisor/pkg/client"
)

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func main() {
	var (
		configPath string
		logLevel   string
		noColor    bool
		apiBase    string
	)

	root := &cobra.Command{
		Use:   "supervisord",
		Short: "Local process supervisor for the Cardano node stack",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (toml/yaml/json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")
	root.PersistentFlags().StringVar(&apiBase, "api", "http://localhost:8080", "status API base URL (status/logs commands)")

	cmdRun := &cobra.Command{
		Use:   "run",
		Short: "Recover orphans, start the stack and serve the status API until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath, logLevel, !noColor)
		},
	}

	cmdBootstrap := &cobra.Command{
		Use:   "bootstrap",
		Short: "Download and verify a chain snapshot via mithril-client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(configPath, logLevel, !noColor)
		},
	}

	cmdStatus := &cobra.Command{
		Use:   "status",
		Short: "Show slot statuses and the overall stack state of a running supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(client.Config{BaseURL: apiBase})
			st, err := c.Overall(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}

	var logsName string
	var logsN int
	cmdLogs := &cobra.Command{
		Use:   "logs",
		Short: "Show recent buffered output lines for one slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if logsName == "" {
				return fmt.Errorf("--name is required")
			}
			c := client.New(client.Config{BaseURL: apiBase})
			lines, err := c.Logs(cmd.Context(), logsName, logsN)
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmdLogs.Flags().StringVar(&logsName, "name", "", "slot name (node, ogmios, kupo, mithril, backend)")
	cmdLogs.Flags().IntVar(&logsN, "n", 100, "number of lines")

	cmdStop := &cobra.Command{
		Use:   "stop",
		Short: "Terminate every tracked child of a (possibly crashed) supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := nodesupervisor.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return pidregistry.RecoverOrphans(cfg.PidFilePath(), pidregistry.DefaultServicePorts)
		},
	}

	root.AddCommand(cmdRun, cmdBootstrap, cmdStatus, cmdLogs, cmdStop)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runDaemon(configPath, logLevel string, color bool) error {
	sup, err := nodesupervisor.New(nodesupervisor.Options{
		ConfigPath: configPath,
		LogLevel:   logLevel,
		Color:      color,
		Resources:  nodeResources(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Drain the event bus into the supervisor log. The stack runs fine
	// without this consumer; it exists for operator visibility.
	go func() {
		for e := range sup.Events() {
			if e.LogLine != "" {
				slog.Debug("child output", "name", e.Name, "line", e.LogLine)
			} else {
				slog.Info("status change", "name", e.Name, "phase", e.Phase)
			}
		}
	}()

	if err := sup.Serve(ctx); err != nil {
		return err
	}

	if err := sup.StartStack(ctx); err != nil {
		if err == orchestrator.ErrBootstrapRequired {
			return fmt.Errorf("%w (run `supervisord bootstrap` first)", err)
		}
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	done := make(chan struct{})
	go func() {
		sup.StopStack()
		close(done)
	}()
	select {
	case <-done:
	case <-sigCh:
		// Second signal: skip the graceful path and kill everything we
		// track, synchronously.
		slog.Warn("forced shutdown")
		sup.KillAllSync()
	}
	return nil
}

func runBootstrap(configPath, logLevel string, color bool) error {
	sup, err := nodesupervisor.New(nodesupervisor.Options{
		ConfigPath: configPath,
		LogLevel:   logLevel,
		Color:      color,
		Resources:  nodeResources(),
	})
	if err != nil {
		return err
	}
	if sup.HasChainData() {
		fmt.Println("chain data already present; nothing to do")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		sup.StopStack()
		cancel()
	}()

	sup.OnBootstrapProgress(func(p mithrilclient.Progress) {
		fmt.Printf("%-18s %5.1f%%  %s\n", p.Stage, p.ProgressPercent*100, p.Message)
	})
	if err := sup.StartBootstrap(ctx); err != nil {
		return err
	}

	// Wait for the one-shot client to finish.
	for {
		info, ok := sup.Status(manager.SlotMithril)
		if ok && !info.Status.Phase.Active() && info.Status.Phase != process.PhaseReady {
			if info.Status.Phase == process.PhaseError {
				return fmt.Errorf("bootstrap failed: %s", info.Status.ErrorMessage)
			}
			fmt.Println("bootstrap complete")
			return nil
		}
		if ok && info.Status.Phase == process.PhaseReady {
			// Parser saw the done step; the process exits right after.
			fmt.Println("bootstrap complete")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

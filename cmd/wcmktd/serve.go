package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orthelt/wcmktd/internal/daemon"
	"github.com/orthelt/wcmktd/internal/dashboard"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon and WebSocket dashboard",
	Long: `Run the full service: the sync daemon keeps the replica fresh on the
two-hour schedule, and the dashboard broadcasts sync and market events
to WebSocket clients.

WebSocket messages include:
- sync_started, sync_complete, sync_failed: sync lifecycle
- gate_state: current readers, writer, and queue depths
- market_stats: order and type counts, last update time

Connect with a WebSocket client:
  ws://localhost:8090/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openReplica()
		if err != nil {
			return err
		}
		defer m.Close()

		syncer, source, err := openSyncer(m)
		if err != nil {
			return err
		}
		defer source.Close()

		dash := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.DashboardPort,
			Logger: logs.Logger("dashboard"),
		})
		if err := dash.Start(); err != nil {
			return err
		}
		defer dash.Stop()

		d, err := daemon.New(m, syncer, dash, &daemon.Config{
			StatePath:     cfg.StatePath,
			StatsInterval: cfg.StatsInterval,
			SyncTimeout:   cfg.SyncTimeout,
			Logger:        logs.Logger("daemon"),
		})
		if err != nil {
			return err
		}

		fmt.Printf("Dashboard: http://localhost:%d (ws://localhost:%d/ws)\n", cfg.DashboardPort, cfg.DashboardPort)
		fmt.Printf("Replica: %s\n", cfg.ReplicaPath)
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return d.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

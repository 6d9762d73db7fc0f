package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/orthelt/wcmktd/internal/store"
	"github.com/orthelt/wcmktd/internal/syncsvc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replica contents and sync schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openReplica()
		if err != nil {
			return err
		}
		defer m.Close()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout)
		defer cancel()

		var orders, types int
		var lastUpdate time.Time
		err = m.WithRead(ctx, func(s *store.Store) error {
			var err error
			if orders, err = s.GetOrderCount(ctx); err != nil {
				return err
			}
			if types, err = s.GetStatCount(ctx); err != nil {
				return err
			}
			lastUpdate, err = s.LastUpdate(ctx)
			return err
		})
		if err != nil {
			return err
		}

		fmt.Printf("Replica: %s\n", cfg.ReplicaPath)
		fmt.Printf("  Orders: %d\n", orders)
		fmt.Printf("  Types tracked: %d\n", types)
		if lastUpdate.IsZero() {
			fmt.Println("  Last update: never")
		} else {
			fmt.Printf("  Last update: %s\n", lastUpdate.UTC().Format("2006-01-02 15:04 UTC"))
		}

		st, err := syncsvc.LoadState(cfg.StatePath)
		if err != nil {
			return err
		}
		if st.LastSync == "" {
			fmt.Println("Sync: never run")
		} else {
			fmt.Printf("Sync: last %s, next %s", st.LastSync, st.NextSync)
			if st.SyncNeeded(time.Now()) {
				fmt.Print(" (overdue)")
			}
			fmt.Println()
		}

		gateState := m.Gate().Snapshot()
		fmt.Printf("Gate: %d readers, writer=%v, sync=%v, queued r/w/s=%d/%d/%d\n",
			gateState.Readers, gateState.WriterActive, gateState.SyncActive,
			gateState.WaitingReads, gateState.WaitingWrites, gateState.WaitingSyncs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one replica sync and exit",
	Long: `Pull the latest remote snapshot into the local replica.

The sync takes exclusive access to the replica: it waits for in-flight
readers and writers to finish, rebuilds the file, validates the result
against the remote, and records the run in the sync-state file.`,
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

		ctx, cancel := context.WithTimeout(context.Background(), cfg.SyncTimeout)
		defer cancel()

		res, err := syncer.SyncNow(ctx)
		if err != nil {
			return fmt.Errorf("sync could not start: %w", err)
		}
		if !res.Success {
			return fmt.Errorf("sync %s failed after %v: %s", res.ID, res.Duration.Round(time.Millisecond), res.Error)
		}

		fmt.Printf("Sync %s complete in %v\n", res.ID, res.Duration.Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orthelt/wcmktd/internal/config"
	"github.com/orthelt/wcmktd/internal/gate"
	"github.com/orthelt/wcmktd/internal/logging"
	"github.com/orthelt/wcmktd/internal/remote"
	"github.com/orthelt/wcmktd/internal/replica"
	"github.com/orthelt/wcmktd/internal/syncsvc"
)

var (
	cfgFile string
	cfg     *config.Config
	logs    *logging.Factory
)

var rootCmd = &cobra.Command{
	Use:   "wcmktd",
	Short: "Winter Coalition market replica daemon",
	Long: `wcmktd keeps a local replica of the Winter Coalition market database
fresh and serves it to dashboard clients.

The replica is synced from the authoritative remote every two hours.
While a sync rebuilds the file, all other access is held off; between
syncs, any number of readers share the replica and writers get it
exclusively.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logs, err = logging.New(&logging.Config{Dir: cfg.LogDir})
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: built-in defaults plus WCMKT_* environment)")
}

// openReplica builds the gate and replica manager from the loaded config.
func openReplica() (*replica.Manager, error) {
	g := gate.New(logs.Logger("gate"))
	return replica.Open(cfg.ReplicaPath, g, &replica.Config{
		AcquireTimeout: cfg.AcquireTimeout,
		Logger:         logs.Logger("replica"),
	})
}

// openSyncer builds the remote source and sync orchestrator. Fails when
// remote credentials are missing, so read-only commands should not call it.
func openSyncer(m *replica.Manager) (*syncsvc.Orchestrator, remote.Source, error) {
	if cfg.RemoteURL == "" {
		return nil, nil, fmt.Errorf("remote_url is required for sync (set WCMKT_REMOTE_URL or the config file)")
	}

	source, err := remote.NewLibsqlSource(remote.Config{
		ReplicaPath: cfg.ReplicaPath,
		RemoteURL:   cfg.RemoteURL,
		AuthToken:   cfg.AuthToken,
		Logger:      logs.Logger("remote"),
	})
	if err != nil {
		return nil, nil, err
	}

	syncer := syncsvc.New(m, source, &syncsvc.Config{
		StatePath: cfg.StatePath,
		Logger:    logs.Logger("sync"),
	})
	return syncer, source, nil
}

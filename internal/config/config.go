// Package config loads daemon and CLI configuration from a YAML file,
// environment variables, and built-in defaults.
//
// Environment variables use the WCMKT_ prefix and override file values:
// WCMKT_REMOTE_URL, WCMKT_AUTH_TOKEN, WCMKT_REPLICA_PATH, and so on.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	// ReplicaPath is where the local market replica lives.
	ReplicaPath string `mapstructure:"replica_path"`

	// StatePath is the sync-state JSON file. Defaults to
	// last_sync_state.json beside the replica.
	StatePath string `mapstructure:"state_path"`

	// RemoteURL is the authoritative remote database URL.
	RemoteURL string `mapstructure:"remote_url"`

	// AuthToken authenticates against the remote. Usually supplied via
	// WCMKT_AUTH_TOKEN rather than the config file.
	AuthToken string `mapstructure:"auth_token"`

	// DashboardPort is the WebSocket dashboard listen port.
	DashboardPort int `mapstructure:"dashboard_port"`

	// AcquireTimeout bounds waits for replica access.
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`

	// SyncTimeout bounds a single sync run end to end.
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`

	// StatsInterval is the dashboard broadcast cadence.
	StatsInterval time.Duration `mapstructure:"stats_interval"`

	// LogDir is where rotating log files are written. Empty logs to
	// stderr only.
	LogDir string `mapstructure:"log_dir"`
}

// Load reads configuration from the given file path. An empty path
// loads defaults and environment overrides only; a named file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Every key needs a default registered, or AutomaticEnv values
	// won't survive Unmarshal.
	v.SetDefault("replica_path", "wcmkt.db")
	v.SetDefault("state_path", "")
	v.SetDefault("remote_url", "")
	v.SetDefault("auth_token", "")
	v.SetDefault("log_dir", "")
	v.SetDefault("dashboard_port", 8090)
	v.SetDefault("acquire_timeout", 30*time.Second)
	v.SetDefault("sync_timeout", 5*time.Minute)
	v.SetDefault("stats_interval", 30*time.Second)

	v.SetEnvPrefix("WCMKT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.StatePath == "" {
		cfg.StatePath = cfg.ReplicaPath + ".sync_state.json"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that hold regardless of which command is
// running. Remote credentials are checked by the sync path itself, since
// read-only commands work without them.
func (c *Config) Validate() error {
	if c.ReplicaPath == "" {
		return fmt.Errorf("replica_path cannot be empty")
	}
	if c.DashboardPort < 0 || c.DashboardPort > 65535 {
		return fmt.Errorf("dashboard_port %d out of range", c.DashboardPort)
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire_timeout must be positive")
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("sync_timeout must be positive")
	}
	return nil
}

// Package daemon runs the background service that keeps the market
// replica fresh.
//
// The daemon:
// 1. Syncs the replica from the remote on the fixed two-hour schedule
// 2. Accepts manual sync triggers between scheduled runs
// 3. Watches the replica file for out-of-band modification
// 4. Broadcasts sync and market events to the dashboard
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/orthelt/wcmktd/internal/dashboard"
	"github.com/orthelt/wcmktd/internal/replica"
	"github.com/orthelt/wcmktd/internal/store"
	"github.com/orthelt/wcmktd/internal/syncsvc"
)

// Config holds configuration for the daemon.
type Config struct {
	// StatePath is the sync-state file consulted on startup to decide
	// whether a catch-up sync is overdue.
	StatePath string

	// StatsInterval is how often market statistics and gate occupancy
	// are broadcast to the dashboard.
	StatsInterval time.Duration

	// SyncTimeout bounds a single sync run, including the wait for the
	// exclusive gate class.
	SyncTimeout time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StatsInterval: 30 * time.Second,
		SyncTimeout:   5 * time.Minute,
		Logger:        log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates scheduled syncs, file watching, and dashboard
// broadcasts.
type Daemon struct {
	replica *replica.Manager
	syncer  *syncsvc.Orchestrator
	dash    *dashboard.Server
	config  *Config

	scheduler *cron.Cron
	watcher   *fsnotify.Watcher
	trigger   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. dash may be nil when no dashboard is attached.
func New(m *replica.Manager, syncer *syncsvc.Orchestrator, dash *dashboard.Server, config *Config) (*Daemon, error) {
	if m == nil {
		return nil, fmt.Errorf("replica manager cannot be nil")
	}
	if syncer == nil {
		return nil, fmt.Errorf("sync orchestrator cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = 30 * time.Second
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = 5 * time.Minute
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		replica:   m,
		syncer:    syncer,
		dash:      dash,
		config:    config,
		scheduler: cron.New(cron.WithLocation(time.UTC)),
		watcher:   watcher,
		trigger:   make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Run a catch-up sync if the persisted schedule says one is overdue
// 2. Register the two-hour cron schedule
// 3. Watch the replica directory for out-of-band changes
// 4. Broadcast periodic stats to the dashboard
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.catchUpNeeded() {
		d.config.Logger.Println("Sync overdue on startup, running catch-up sync")
		d.runSync("startup")
	}

	if _, err := d.scheduler.AddFunc(syncsvc.CronSpec, func() {
		d.runSync("schedule")
	}); err != nil {
		return fmt.Errorf("failed to register sync schedule: %w", err)
	}
	d.scheduler.Start()

	replicaDir := filepath.Dir(d.replica.Path())
	if err := d.watcher.Add(replicaDir); err != nil {
		return fmt.Errorf("failed to watch replica directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", replicaDir)

	d.wg.Add(3)
	go d.watchReplicaFile()
	go d.triggerLoop()
	go d.statsLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	// Let an in-flight scheduled sync finish before returning.
	<-d.scheduler.Stop().Done()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// TriggerSync requests an immediate sync. Returns false if a trigger is
// already pending.
func (d *Daemon) TriggerSync() bool {
	select {
	case d.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// catchUpNeeded consults the persisted schedule state.
func (d *Daemon) catchUpNeeded() bool {
	if d.config.StatePath == "" {
		return false
	}
	st, err := syncsvc.LoadState(d.config.StatePath)
	if err != nil {
		d.config.Logger.Printf("Warning: failed to load sync state: %v", err)
		return true
	}
	return st.SyncNeeded(time.Now())
}

// runSync executes one sync run and broadcasts its lifecycle. Runs that
// arrive while a sync is already in flight are skipped; the gate would
// serialize them anyway, and a queue of stale runs helps nobody.
func (d *Daemon) runSync(reason string) {
	if d.syncer.Status() == syncsvc.StatusSyncing {
		d.config.Logger.Printf("Sync already running, skipping %s trigger", reason)
		return
	}

	d.config.Logger.Printf("Sync starting (%s)", reason)

	if d.dash != nil {
		d.dash.BroadcastSyncEvent(dashboard.MessageTypeSyncStarted, dashboard.SyncEventData{})
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.config.SyncTimeout)
	defer cancel()

	res, err := d.syncer.SyncNow(ctx)
	if err != nil {
		d.config.Logger.Printf("Sync could not start: %v", err)
		return
	}

	if d.dash != nil {
		event := dashboard.SyncEventData{
			RunID:    res.ID,
			Duration: res.Duration,
		}
		if res.Success {
			event.NextSync = syncsvc.NextSyncTime(res.StartedAt).Format("2006-01-02 15:04 UTC")
			d.dash.BroadcastSyncEvent(dashboard.MessageTypeSyncComplete, event)
		} else {
			event.Error = res.Error
			d.dash.BroadcastSyncEvent(dashboard.MessageTypeSyncFailed, event)
		}
	}

	if res.Success {
		d.broadcastMarketStats()
	}
}

// triggerLoop services manual sync requests.
func (d *Daemon) triggerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.trigger:
			d.runSync("manual")
		}
	}
}

// watchReplicaFile warns when the replica file changes outside a sync.
// Nothing but the daemon should rewrite the file; a write while the gate
// is not in its sync class means some other process is touching it.
func (d *Daemon) watchReplicaFile() {
	defer d.wg.Done()

	replicaPath := d.replica.Path()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// The store also writes -wal/-shm siblings; only the main
			// file matters here.
			if event.Name != replicaPath {
				continue
			}
			if d.syncer.Status() == syncsvc.StatusSyncing {
				continue
			}
			if d.replica.Gate().Snapshot().WriterActive {
				continue
			}
			d.config.Logger.Printf("Warning: replica modified outside sync: %s %s", event.Op, event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// statsLoop periodically broadcasts gate occupancy and market statistics.
func (d *Daemon) statsLoop() {
	defer d.wg.Done()

	if d.dash == nil {
		return
	}

	ticker := time.NewTicker(d.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.dash.BroadcastGateState(d.replica.Gate().Snapshot())
			d.broadcastMarketStats()
		}
	}
}

// broadcastMarketStats reads replica counts under a read token and
// publishes them.
func (d *Daemon) broadcastMarketStats() {
	if d.dash == nil {
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
	defer cancel()

	var stats dashboard.MarketStatsData
	err := d.replica.WithRead(ctx, func(s *store.Store) error {
		var err error
		if stats.Orders, err = s.GetOrderCount(ctx); err != nil {
			return err
		}
		if stats.Types, err = s.GetStatCount(ctx); err != nil {
			return err
		}
		stats.LastUpdate, err = s.LastUpdate(ctx)
		return err
	})
	if err != nil {
		d.config.Logger.Printf("Warning: failed to read market stats: %v", err)
		return
	}

	d.dash.BroadcastMarketStats(stats)
}

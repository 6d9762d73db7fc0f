package syncsvc

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orthelt/wcmktd/internal/gate"
	"github.com/orthelt/wcmktd/internal/remote"
	"github.com/orthelt/wcmktd/internal/replica"
	"github.com/orthelt/wcmktd/internal/store"
)

// Status is the orchestrator's current position in its state machine.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// Result is the outcome of one synchronization attempt.
type Result struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// Orchestrator performs on-demand resynchronization of the replica under
// full exclusivity. Scheduling is the daemon's job; the orchestrator only
// knows the single-shot operation.
type Orchestrator struct {
	replica   *replica.Manager
	source    remote.Source
	statePath string
	logger    *log.Logger

	mu     sync.Mutex
	status Status
	last   *Result
}

// Config holds orchestrator configuration.
type Config struct {
	// StatePath is where the sync-state JSON file is written.
	// Empty disables state persistence (used by some tests).
	StatePath string

	// Logger for sync activity
	Logger *log.Logger
}

// New creates an orchestrator for the given replica and remote source.
func New(m *replica.Manager, source remote.Source, config *Config) *Orchestrator {
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Orchestrator{
		replica:   m,
		source:    source,
		statePath: config.StatePath,
		logger:    config.Logger,
		status:    StatusIdle,
	}
}

// Status returns the orchestrator's current state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// LastResult returns the most recent sync result, or nil if none has run.
func (o *Orchestrator) LastResult() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	r := *o.last
	return &r
}

// SyncNow acquires the Sync class, refreshes the replica from the remote,
// validates, and releases. The returned error is non-nil only when the
// exclusive section could not be entered (context cancelled or deadline
// exceeded while waiting on the gate); refresh and validation failures
// are carried inside the Result.
func (o *Orchestrator) SyncNow(ctx context.Context) (Result, error) {
	res := Result{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	tok, err := o.replica.Gate().AcquireSync(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("sync %s: %w", res.ID, err)
	}

	o.setStatus(StatusSyncing)
	o.logger.Printf("Sync %s started", res.ID)

	// The sync token is released on every exit path so a failed refresh
	// can never wedge readers.
	defer func() {
		if err := o.replica.Gate().Release(tok); err != nil {
			o.logger.Printf("ERROR: releasing sync token: %v", err)
		}
		if res.Success {
			o.setStatus(StatusIdle)
		} else {
			o.setStatus(StatusFailed)
			o.setStatus(StatusIdle)
		}
		o.recordResult(res)
	}()

	res = o.runLocked(ctx, tok, res)
	return res, nil
}

// runLocked does the refresh/swap/validate sequence while holding the
// sync token.
func (o *Orchestrator) runLocked(ctx context.Context, tok *gate.Token, res Result) Result {
	finish := func(res Result, failure error) Result {
		res.Duration = time.Since(res.StartedAt)
		if failure != nil {
			res.Error = failure.Error()
			o.logger.Printf("Sync %s failed after %v: %v", res.ID, res.Duration, failure)
			return res
		}
		res.Success = true
		o.logger.Printf("Sync %s complete in %v", res.ID, res.Duration)
		return res
	}

	if err := o.source.Refresh(ctx); err != nil {
		// Replica untouched or self-consistent; previous content stays
		// queryable once the token is released.
		return finish(res, err)
	}

	// Reopen the handle so no pooled connection spans the rebuilt file.
	if err := o.replica.Swap(tok); err != nil {
		return finish(res, err)
	}

	var localLast time.Time
	if err := o.replica.UnderSync(tok, func(s *store.Store) error {
		var err error
		localLast, err = s.LastUpdate(ctx)
		return err
	}); err != nil {
		return finish(res, fmt.Errorf("post-sync read failed: %w", err))
	}

	if err := o.source.Validate(ctx, localLast); err != nil {
		return finish(res, fmt.Errorf("validation failed: %w", err))
	}

	if o.statePath != "" {
		if err := saveState(o.statePath, newState(res.StartedAt)); err != nil {
			// State file is advisory; the sync itself succeeded.
			o.logger.Printf("Warning: failed to persist sync state: %v", err)
		}
	}

	return finish(res, nil)
}

func (o *Orchestrator) setStatus(s Status) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

func (o *Orchestrator) recordResult(res Result) {
	o.mu.Lock()
	o.last = &res
	o.mu.Unlock()
}

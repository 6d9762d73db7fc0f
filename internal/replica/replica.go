// Package replica owns the live handle to the local market replica and
// wraps every access in gate arbitration, so holding a gate token is both
// necessary and sufficient to use the handle safely.
//
// Callers never see the handle outside a callback: WithRead and WithWrite
// acquire the matching gate class, run the callback against the current
// store, and release on every exit path. The handle must not be cached past
// the callback's lifetime; the store a callback saw may be closed and
// replaced by the next sync.
package replica

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/orthelt/wcmktd/internal/gate"
	"github.com/orthelt/wcmktd/internal/store"
)

// DefaultAcquireTimeout bounds gate waits for callers that pass a context
// without a deadline.
const DefaultAcquireTimeout = 30 * time.Second

// Manager pairs the replica store with the gate that arbitrates access
// to it.
type Manager struct {
	gate           *gate.Gate
	store          *store.Store
	path           string
	acquireTimeout time.Duration
	logger         *log.Logger
}

// Config holds manager configuration.
type Config struct {
	// AcquireTimeout is applied to acquisitions whose context carries no
	// deadline. Zero means DefaultAcquireTimeout.
	AcquireTimeout time.Duration

	// Logger for manager activity
	Logger *log.Logger
}

// Open opens the replica at path and returns a manager guarding it.
func Open(path string, g *gate.Gate, config *Config) (*Manager, error) {
	if g == nil {
		return nil, fmt.Errorf("gate cannot be nil")
	}
	if config == nil {
		config = &Config{}
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = DefaultAcquireTimeout
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[replica] ", log.LstdFlags)
	}

	s, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica: %w", err)
	}

	return &Manager{
		gate:           g,
		store:          s,
		path:           path,
		acquireTimeout: config.AcquireTimeout,
		logger:         config.Logger,
	}, nil
}

// Gate returns the gate guarding this replica.
func (m *Manager) Gate() *gate.Gate {
	return m.gate
}

// Path returns the replica file path. The path is fixed at Open, so this
// is safe to call from any goroutine, including while a sync swaps the
// store handle.
func (m *Manager) Path() string {
	return m.path
}

// WithRead acquires a Read token, runs fn against the replica store, and
// releases the token when fn returns. fn's error is propagated unchanged;
// acquisition failures come back as gate.ErrTimeout.
func (m *Manager) WithRead(ctx context.Context, fn func(*store.Store) error) error {
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()

	tok, err := m.gate.AcquireRead(ctx)
	if err != nil {
		return err
	}
	defer m.release(tok)

	return fn(m.store)
}

// WithWrite acquires the Write token, runs fn against the replica store,
// and releases the token when fn returns.
func (m *Manager) WithWrite(ctx context.Context, fn func(*store.Store) error) error {
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()

	tok, err := m.gate.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer m.release(tok)

	return fn(m.store)
}

// Swap closes the current store and reopens the replica file while the
// caller holds the Sync token. The sync orchestrator uses this after the
// remote snapshot has replaced or rewritten the file, so the pool never
// serves connections that straddle the rebuild.
func (m *Manager) Swap(tok *gate.Token) error {
	if tok == nil || tok.Class() != gate.Sync {
		return fmt.Errorf("%w: replica swap requires a held sync token", gate.ErrProtocolViolation)
	}

	if err := m.store.Close(); err != nil {
		m.logger.Printf("Warning: closing replica before swap: %v", err)
	}

	s, err := store.Open(m.path)
	if err != nil {
		return fmt.Errorf("failed to reopen replica after sync: %w", err)
	}
	m.store = s
	m.logger.Printf("Replica handle reopened: %s", m.path)
	return nil
}

// UnderSync runs fn against the store while the caller holds the Sync
// token. Used by the sync orchestrator for post-refresh validation reads
// inside the exclusive section.
func (m *Manager) UnderSync(tok *gate.Token, fn func(*store.Store) error) error {
	if tok == nil || tok.Class() != gate.Sync {
		return fmt.Errorf("%w: replica access requires a held sync token", gate.ErrProtocolViolation)
	}
	return fn(m.store)
}

// Close closes the underlying store. Callers are expected to have stopped
// issuing WithRead/WithWrite first.
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.acquireTimeout)
}

func (m *Manager) release(tok *gate.Token) {
	if err := m.gate.Release(tok); err != nil {
		// A failed release here is a bug in the manager itself.
		m.logger.Printf("ERROR: releasing %s token: %v", tok.Class(), err)
	}
}

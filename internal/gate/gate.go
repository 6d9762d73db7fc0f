package gate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Class identifies one of the three access classes.
type Class int

const (
	// Read is the shared class. Readers only ever block on writers and syncs.
	Read Class = iota

	// Write is the exclusive class for ordinary replica mutations.
	Write

	// Sync is the exclusive class held while the replica is rebuilt from
	// the remote database. Exclusivity rules match Write; waiting syncs are
	// woken ahead of waiting writes.
	Sync
)

// String returns the lowercase class name used in logs and errors.
func (c Class) String() string {
	switch c {
	case Read:
		return "read"
	case Write:
		return "write"
	case Sync:
		return "sync"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

var (
	// ErrTimeout reports that an acquisition was abandoned because its
	// context was cancelled or its deadline passed. Gate state is unchanged.
	ErrTimeout = errors.New("acquisition deadline exceeded")

	// ErrProtocolViolation reports a release without a matching acquisition,
	// or a double release of the same token. This is a programming error in
	// the caller, never a recoverable runtime condition.
	ErrProtocolViolation = errors.New("protocol violation")
)

// Token is proof of a granted acquisition. It is owned exclusively by the
// caller that acquired it and must be released exactly once.
type Token struct {
	class      Class
	id         uint64
	acquiredAt time.Time
	owner      string
}

// Class returns the access class the token was granted for.
func (t *Token) Class() Class { return t.class }

// ID returns the token's monotonic grant sequence number.
func (t *Token) ID() uint64 { return t.id }

// AcquiredAt returns when the grant happened.
func (t *Token) AcquiredAt() time.Time { return t.acquiredAt }

// Owner returns the caller label captured at acquisition, for diagnostics.
func (t *Token) Owner() string { return t.owner }

// waiter is a single pending acquisition parked in one of the class queues.
type waiter struct {
	class Class
	owner string
	grant chan *Token
}

// Gate is the concurrency controller for the replica. All state transitions
// happen under a single short critical section so the check-and-update of
// the reader count and writer/sync flags is atomic.
type Gate struct {
	logger *log.Logger

	mu      sync.Mutex
	readers int
	writer  bool
	syncing bool
	readQ   []*waiter
	writeQ  []*waiter
	syncQ   []*waiter
	held    map[uint64]*Token
	nextID  uint64
}

// State is a point-in-time snapshot of the gate, for the dashboard and for
// tests. Invariant: at most one of WriterActive and SyncActive is true, and
// Readers is zero whenever either is.
type State struct {
	Readers       int  `json:"readers"`
	WriterActive  bool `json:"writer_active"`
	SyncActive    bool `json:"sync_active"`
	WaitingReads  int  `json:"waiting_reads"`
	WaitingWrites int  `json:"waiting_writes"`
	WaitingSyncs  int  `json:"waiting_syncs"`
}

// New creates a gate. If logger is nil, a default logger writing to stderr
// is used.
func New(logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.New(os.Stderr, "[gate] ", log.LstdFlags)
	}
	return &Gate{
		logger: logger,
		held:   make(map[uint64]*Token),
	}
}

// AcquireRead blocks until no writer and no sync are active (and none are
// queued ahead), then grants a Read token.
func (g *Gate) AcquireRead(ctx context.Context) (*Token, error) {
	return g.acquire(ctx, Read)
}

// AcquireWrite blocks until the gate is idle, then grants the single Write
// token. New reads arriving while the write is queued or active wait behind
// it.
func (g *Gate) AcquireWrite(ctx context.Context) (*Token, error) {
	return g.acquire(ctx, Write)
}

// AcquireSync blocks until the gate is idle, then grants the single Sync
// token. While a sync is queued or active, no other class is granted.
func (g *Gate) AcquireSync(ctx context.Context) (*Token, error) {
	return g.acquire(ctx, Sync)
}

func (g *Gate) acquire(ctx context.Context, class Class) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s acquire: %w: %v", class, ErrTimeout, err)
	}

	owner := callerLabel()

	g.mu.Lock()
	if g.eligibleLocked(class) {
		tok := g.grantLocked(class, owner)
		g.mu.Unlock()
		return tok, nil
	}

	w := &waiter{class: class, owner: owner, grant: make(chan *Token, 1)}
	g.enqueueLocked(w)
	g.mu.Unlock()

	select {
	case tok := <-w.grant:
		return tok, nil

	case <-ctx.Done():
		g.mu.Lock()
		if g.removeLocked(w) {
			g.mu.Unlock()
			return nil, fmt.Errorf("%s acquire: %w: %v", class, ErrTimeout, ctx.Err())
		}
		g.mu.Unlock()

		// The grant raced our cancellation: the token already counts
		// against gate state, so collect it and hand it straight back.
		tok := <-w.grant
		if err := g.Release(tok); err != nil {
			g.logger.Printf("ERROR: releasing token granted during cancellation: %v", err)
		}
		return nil, fmt.Errorf("%s acquire: %w: %v", class, ErrTimeout, ctx.Err())
	}
}

// Release returns a token to the gate and wakes the next eligible waiters.
// The token must be one this gate granted and must not have been released
// before; otherwise ErrProtocolViolation is returned and state is unchanged.
func (g *Gate) Release(tok *Token) error {
	if tok == nil {
		return fmt.Errorf("%w: release of nil token", ErrProtocolViolation)
	}

	g.mu.Lock()
	cur, ok := g.held[tok.id]
	if !ok || cur != tok {
		g.mu.Unlock()
		g.logger.Printf("ERROR: %s release of token %d (owner %s) that is not outstanding", tok.class, tok.id, tok.owner)
		return fmt.Errorf("%w: %s token %d is not outstanding", ErrProtocolViolation, tok.class, tok.id)
	}
	delete(g.held, tok.id)

	switch tok.class {
	case Read:
		g.readers--
	case Write:
		g.writer = false
	case Sync:
		g.syncing = false
	}

	g.scheduleLocked()
	g.mu.Unlock()
	return nil
}

// Snapshot returns the current gate state.
func (g *Gate) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		Readers:       g.readers,
		WriterActive:  g.writer,
		SyncActive:    g.syncing,
		WaitingReads:  len(g.readQ),
		WaitingWrites: len(g.writeQ),
		WaitingSyncs:  len(g.syncQ),
	}
}

// eligibleLocked reports whether a new request of the given class can be
// granted immediately. A new request never jumps ahead of queued requests
// its class must yield to.
func (g *Gate) eligibleLocked(class Class) bool {
	if g.writer || g.syncing {
		return false
	}
	switch class {
	case Read:
		return len(g.syncQ) == 0 && len(g.writeQ) == 0
	case Write:
		return g.readers == 0 && len(g.syncQ) == 0 && len(g.writeQ) == 0
	case Sync:
		return g.readers == 0 && len(g.syncQ) == 0
	default:
		return false
	}
}

// grantLocked mutates gate state for a grant and mints the token.
func (g *Gate) grantLocked(class Class, owner string) *Token {
	switch class {
	case Read:
		g.readers++
	case Write:
		g.writer = true
	case Sync:
		g.syncing = true
	}
	g.nextID++
	tok := &Token{
		class:      class,
		id:         g.nextID,
		acquiredAt: time.Now(),
		owner:      owner,
	}
	g.held[tok.id] = tok
	return tok
}

func (g *Gate) enqueueLocked(w *waiter) {
	switch w.class {
	case Read:
		g.readQ = append(g.readQ, w)
	case Write:
		g.writeQ = append(g.writeQ, w)
	case Sync:
		g.syncQ = append(g.syncQ, w)
	}
}

// removeLocked takes an abandoned waiter out of its queue. It returns false
// if the waiter was already granted (no longer queued), in which case the
// caller owns the token sitting in the grant channel.
func (g *Gate) removeLocked(w *waiter) bool {
	var q *[]*waiter
	switch w.class {
	case Read:
		q = &g.readQ
	case Write:
		q = &g.writeQ
	case Sync:
		q = &g.syncQ
	}
	for i, cand := range *q {
		if cand == w {
			*q = append((*q)[:i], (*q)[i+1:]...)
			g.scheduleLocked()
			return true
		}
	}
	return false
}

// scheduleLocked is the single wake-up step: it re-evaluates class priority
// (sync > write > read) rather than relying on incidental condition-variable
// wake order. A queued sync or write blocks everything behind it until it
// can run.
func (g *Gate) scheduleLocked() {
	if g.writer || g.syncing {
		return
	}

	if len(g.syncQ) > 0 {
		if g.readers == 0 {
			w := g.syncQ[0]
			g.syncQ = g.syncQ[1:]
			w.grant <- g.grantLocked(Sync, w.owner)
		}
		return
	}

	if len(g.writeQ) > 0 {
		if g.readers == 0 {
			w := g.writeQ[0]
			g.writeQ = g.writeQ[1:]
			w.grant <- g.grantLocked(Write, w.owner)
		}
		return
	}

	// No exclusive work pending: everyone waiting to read goes together.
	for _, w := range g.readQ {
		w.grant <- g.grantLocked(Read, w.owner)
	}
	g.readQ = nil
}

// callerLabel captures a short identifier for the acquiring caller,
// used only for diagnostics on the token.
func callerLabel() string {
	pc, _, _, ok := runtime.Caller(3)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

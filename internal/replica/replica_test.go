package replica

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/orthelt/wcmktd/internal/gate"
	"github.com/orthelt/wcmktd/internal/schema"
	"github.com/orthelt/wcmktd/internal/store"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "replica.db")
	g := gate.New(log.New(os.Stderr, "[gate-test] ", 0))

	m, err := Open(dbPath, g, &Config{
		AcquireTimeout: 5 * time.Second,
		Logger:         log.New(os.Stderr, "[replica-test] ", 0),
	})
	if err != nil {
		t.Fatalf("failed to open manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	if err := m.WithWrite(context.Background(), func(s *store.Store) error {
		return s.InitSchema(context.Background())
	}); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return m
}

func TestWithReadPropagatesResultAndError(t *testing.T) {
	m := setupTestManager(t)

	var count int
	if err := m.WithRead(context.Background(), func(s *store.Store) error {
		var err error
		count, err = s.GetStatCount(context.Background())
		return err
	}); err != nil {
		t.Fatalf("WithRead failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty replica, got %d stats", count)
	}

	boom := errors.New("boom")
	err := m.WithRead(context.Background(), func(s *store.Store) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}

	// The token must have been released despite the error.
	st := m.Gate().Snapshot()
	if st.Readers != 0 {
		t.Errorf("reader token leaked after callback error: %+v", st)
	}
}

func TestWithWriteExcludesReads(t *testing.T) {
	m := setupTestManager(t)

	writeEntered := make(chan struct{})
	releaseWrite := make(chan struct{})
	writeDone := make(chan error, 1)

	go func() {
		writeDone <- m.WithWrite(context.Background(), func(s *store.Store) error {
			close(writeEntered)
			<-releaseWrite
			return s.UpsertStat(context.Background(), &schema.MarketStat{
				TypeID:     34,
				TypeName:   "Tritanium",
				LastUpdate: time.Now().UTC(),
			})
		})
	}()
	<-writeEntered

	readStarted := make(chan struct{})
	readDone := make(chan error, 1)
	go func() {
		close(readStarted)
		readDone <- m.WithRead(context.Background(), func(s *store.Store) error {
			_, err := s.GetStatCount(context.Background())
			return err
		})
	}()
	<-readStarted

	select {
	case err := <-readDone:
		t.Fatalf("read completed while write held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseWrite)
	if err := <-writeDone; err != nil {
		t.Fatalf("WithWrite failed: %v", err)
	}
	if err := <-readDone; err != nil {
		t.Fatalf("WithRead failed after write released: %v", err)
	}
}

func TestConcurrentReadsOverlap(t *testing.T) {
	m := setupTestManager(t)

	const n = 10
	const hold = 50 * time.Millisecond

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if err := m.WithRead(context.Background(), func(s *store.Store) error {
				time.Sleep(hold)
				return nil
			}); err != nil {
				t.Errorf("WithRead failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > 5*hold {
		t.Errorf("reads serialized: %d x %v took %v", n, hold, elapsed)
	}
}

func TestWithReadTimesOutBehindSync(t *testing.T) {
	m := setupTestManager(t)

	tok, err := m.Gate().AcquireSync(context.Background())
	if err != nil {
		t.Fatalf("AcquireSync failed: %v", err)
	}
	defer m.Gate().Release(tok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = m.WithRead(ctx, func(s *store.Store) error { return nil })
	if !errors.Is(err, gate.ErrTimeout) {
		t.Fatalf("expected ErrTimeout behind sync, got %v", err)
	}
}

func TestSwapRequiresSyncToken(t *testing.T) {
	m := setupTestManager(t)

	if err := m.Swap(nil); !errors.Is(err, gate.ErrProtocolViolation) {
		t.Fatalf("nil token swap: got %v, want ErrProtocolViolation", err)
	}

	rtok, err := m.Gate().AcquireRead(context.Background())
	if err != nil {
		t.Fatalf("AcquireRead failed: %v", err)
	}
	if err := m.Swap(rtok); !errors.Is(err, gate.ErrProtocolViolation) {
		t.Fatalf("read token swap: got %v, want ErrProtocolViolation", err)
	}
	if err := m.Gate().Release(rtok); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestPathStableAcrossSwap(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	path := m.Path()
	if path == "" {
		t.Fatal("Path returned empty string")
	}

	// Path is read from other goroutines (the daemon's file watcher)
	// while the sync orchestrator swaps the handle; it must never change
	// and never touch the swapped store pointer.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if got := m.Path(); got != path {
					t.Errorf("Path changed during swap: %q -> %q", path, got)
					return
				}
			}
		}
	}()

	stok, err := m.Gate().AcquireSync(ctx)
	if err != nil {
		t.Fatalf("AcquireSync failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := m.Swap(stok); err != nil {
			t.Fatalf("Swap failed: %v", err)
		}
	}
	if err := m.Gate().Release(stok); err != nil {
		t.Fatalf("Release sync failed: %v", err)
	}

	close(stop)
	wg.Wait()

	if got := m.Path(); got != path {
		t.Errorf("Path changed after swap: %q -> %q", path, got)
	}
}

func TestSwapPreservesData(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	if err := m.WithWrite(ctx, func(s *store.Store) error {
		for i := 1; i <= 3; i++ {
			if err := s.UpsertStat(ctx, &schema.MarketStat{
				TypeID:     int64(i),
				TypeName:   fmt.Sprintf("Type %d", i),
				LastUpdate: time.Now().UTC(),
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	stok, err := m.Gate().AcquireSync(ctx)
	if err != nil {
		t.Fatalf("AcquireSync failed: %v", err)
	}
	if err := m.Swap(stok); err != nil {
		t.Fatalf("Swap failed: %v", err)
	}
	if err := m.Gate().Release(stok); err != nil {
		t.Fatalf("Release sync failed: %v", err)
	}

	var count int
	if err := m.WithRead(ctx, func(s *store.Store) error {
		var err error
		count, err = s.GetStatCount(ctx)
		return err
	}); err != nil {
		t.Fatalf("WithRead after swap failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 stats after swap, got %d", count)
	}
}

// Package remote pulls the latest snapshot of the market database from the
// authoritative remote (Turso) into the local replica file.
//
// The only capability the rest of the system needs is "refresh the local
// replica and tell me whether it worked", so that is the whole Source
// interface. The libSQL embedded-replica implementation below is the
// production transport; tests substitute their own Source.
package remote

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/tursodatabase/go-libsql"
)

// Source is the outbound capability of the sync orchestrator.
type Source interface {
	// Refresh pulls the latest remote snapshot into the local replica
	// file. On error the replica is left in its previous self-consistent
	// state (libSQL applies frames transactionally).
	Refresh(ctx context.Context) error

	// Validate compares the replica's MAX(last_update) against the
	// remote's and returns an error on divergence.
	Validate(ctx context.Context, localLastUpdate time.Time) error

	// Close releases the connection to the remote.
	Close() error
}

// Config holds the remote endpoint settings.
type Config struct {
	// ReplicaPath is the local database file the snapshot lands in.
	ReplicaPath string

	// RemoteURL is the libsql:// URL of the authoritative database.
	RemoteURL string

	// AuthToken authenticates against the remote.
	AuthToken string

	// Attempts and Delay bound the retry loop around a refresh.
	// Zero values mean 3 attempts starting at 2s with doubling delay.
	Attempts int
	Delay    time.Duration

	// Logger for source activity
	Logger *log.Logger
}

// LibsqlSource syncs the local replica using a libSQL embedded-replica
// connector, the same mechanism the remote database exposes to every
// other consumer.
type LibsqlSource struct {
	cfg       Config
	logger    *log.Logger
	connector *libsql.Connector
	remote    *sql.DB
}

// NewLibsqlSource validates the endpoint settings and returns a source.
// The connector is created lazily on first refresh so construction never
// touches the network.
func NewLibsqlSource(cfg Config) (*LibsqlSource, error) {
	if cfg.ReplicaPath == "" {
		return nil, fmt.Errorf("replica path cannot be empty")
	}
	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("remote URL cannot be empty")
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &LibsqlSource{cfg: cfg, logger: cfg.Logger}, nil
}

// Refresh implements Source.Refresh with bounded retries.
func (s *LibsqlSource) Refresh(ctx context.Context) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return s.syncOnce()
		},
		NotifyFunc: func(lastError error, attempt int) {
			s.logger.Printf("Refresh attempt %d failed: %v", attempt, lastError)
		},
		Attempts:    s.cfg.Attempts,
		Delay:       s.cfg.Delay,
		MaxDelay:    30 * time.Second,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clock.WallClock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		return fmt.Errorf("failed to refresh replica from %s: %w", s.cfg.RemoteURL, err)
	}
	return nil
}

func (s *LibsqlSource) syncOnce() error {
	if s.connector == nil {
		connector, err := libsql.NewEmbeddedReplicaConnector(
			s.cfg.ReplicaPath,
			s.cfg.RemoteURL,
			libsql.WithAuthToken(s.cfg.AuthToken),
		)
		if err != nil {
			return fmt.Errorf("failed to create replica connector: %w", err)
		}
		s.connector = connector
	}

	rep, err := s.connector.Sync()
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	s.logger.Printf("Synced %d frames (frame_no=%d)", rep.FramesSynced, rep.FrameNo)
	return nil
}

// Validate implements Source.Validate by querying the remote directly,
// bypassing the replica.
func (s *LibsqlSource) Validate(ctx context.Context, localLastUpdate time.Time) error {
	if s.remote == nil {
		db, err := sql.Open("libsql", s.cfg.RemoteURL+"?authToken="+s.cfg.AuthToken)
		if err != nil {
			return fmt.Errorf("failed to open remote connection: %w", err)
		}
		s.remote = db
	}

	var remoteLast sql.NullString
	err := s.remote.QueryRowContext(ctx,
		"SELECT MAX(last_update) FROM marketstats").Scan(&remoteLast)
	if err != nil {
		return fmt.Errorf("failed to read remote last_update: %w", err)
	}
	if !remoteLast.Valid {
		// Remote empty: nothing to diverge from.
		return nil
	}

	remoteTime, err := time.Parse(time.RFC3339, remoteLast.String)
	if err != nil {
		return fmt.Errorf("failed to parse remote last_update %q: %w", remoteLast.String, err)
	}
	if !remoteTime.Equal(localLastUpdate) {
		return fmt.Errorf("replica behind remote: local last_update %s, remote %s",
			localLastUpdate.UTC().Format(time.RFC3339), remoteTime.UTC().Format(time.RFC3339))
	}
	return nil
}

// Close implements Source.Close.
func (s *LibsqlSource) Close() error {
	var firstErr error
	if s.remote != nil {
		if err := s.remote.Close(); err != nil {
			firstErr = err
		}
		s.remote = nil
	}
	if s.connector != nil {
		if err := s.connector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.connector = nil
	}
	return firstErr
}

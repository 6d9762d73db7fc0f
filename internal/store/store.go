// Package store provides the SQLite replica store for the market dashboard.
//
// The database file is a local replica of the remote market database. It is
// opened in embedded mode with WAL so concurrent readers do not block each
// other; whole-file exclusivity during resync is the job of the gate, not of
// this package. Holding the appropriate gate token is a caller obligation
// enforced by the replica manager, which is the only component that hands
// out handles.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/orthelt/wcmktd/internal/schema"
)

// Store wraps the pooled connection to the local replica file.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a pooled connection to the replica at the specified path.
//
// The parent directory is created if needed. WAL mode, a 5s busy timeout
// and foreign keys are enabled. The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// Path returns the replica file path this store was opened on.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the connection pool.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the replica tables if they don't exist. Idempotent.
// In production the tables arrive fully formed from the remote snapshot;
// this exists for fresh replicas and for tests.
func (s *Store) InitSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS marketorders (
		order_id INTEGER PRIMARY KEY,
		is_buy_order INTEGER NOT NULL DEFAULT 0,
		type_id INTEGER NOT NULL,
		type_name TEXT NOT NULL DEFAULT '',
		price REAL NOT NULL,
		volume_remain INTEGER NOT NULL,
		duration INTEGER NOT NULL,
		issued TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS marketstats (
		type_id INTEGER PRIMARY KEY,
		type_name TEXT NOT NULL DEFAULT '',
		price REAL NOT NULL DEFAULT 0,
		total_stock INTEGER NOT NULL DEFAULT 0,
		avg_vol REAL NOT NULL DEFAULT 0,
		days REAL NOT NULL DEFAULT 0,
		group_id INTEGER NOT NULL DEFAULT 0,
		group_name TEXT NOT NULL DEFAULT '',
		last_update TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS market_history (
		type_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		average REAL NOT NULL,
		volume INTEGER NOT NULL,
		PRIMARY KEY (type_id, date)
	);

	CREATE TABLE IF NOT EXISTS doctrines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fit_id INTEGER NOT NULL,
		ship_name TEXT NOT NULL DEFAULT '',
		type_id INTEGER NOT NULL,
		type_name TEXT NOT NULL DEFAULT '',
		fit_qty INTEGER NOT NULL DEFAULT 0,
		fits_on_mkt REAL NOT NULL DEFAULT 0,
		total_stock INTEGER NOT NULL DEFAULT 0,
		hub_price REAL NOT NULL DEFAULT 0,
		avg_vol REAL NOT NULL DEFAULT 0,
		days REAL NOT NULL DEFAULT 0,
		group_name TEXT NOT NULL DEFAULT '',
		category_id INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS ship_targets (
		fit_id INTEGER PRIMARY KEY,
		ship_target INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_orders_type ON marketorders(type_id);
	CREATE INDEX IF NOT EXISTS idx_orders_buy ON marketorders(is_buy_order);
	CREATE INDEX IF NOT EXISTS idx_history_type ON market_history(type_id);
	CREATE INDEX IF NOT EXISTS idx_doctrines_type ON doctrines(type_id);
	CREATE INDEX IF NOT EXISTS idx_doctrines_fit ON doctrines(fit_id);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// GetBuyOrders returns all live buy orders ordered by order_id.
func (s *Store) GetBuyOrders(ctx context.Context) ([]*schema.MarketOrder, error) {
	query := `
	SELECT order_id, is_buy_order, type_id, type_name, price,
	       volume_remain, duration, issued
	FROM marketorders
	WHERE is_buy_order = 1
	ORDER BY order_id
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query buy orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// GetOrdersForType returns all orders for one type, buys and sells.
func (s *Store) GetOrdersForType(ctx context.Context, typeID int64) ([]*schema.MarketOrder, error) {
	query := `
	SELECT order_id, is_buy_order, type_id, type_name, price,
	       volume_remain, duration, issued
	FROM marketorders
	WHERE type_id = ?
	ORDER BY is_buy_order, price
	`
	rows, err := s.conn.QueryContext(ctx, query, typeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders for type %d: %w", typeID, err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]*schema.MarketOrder, error) {
	var orders []*schema.MarketOrder

	for rows.Next() {
		var o schema.MarketOrder
		var isBuy int
		var issued string

		if err := rows.Scan(&o.OrderID, &isBuy, &o.TypeID, &o.TypeName,
			&o.Price, &o.VolumeRemain, &o.Duration, &issued); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.IsBuyOrder = isBuy != 0

		if t, err := time.Parse(time.RFC3339, issued); err == nil {
			o.Issued = t
		}
		if days := int(time.Until(o.Expiry()).Hours() / 24); days > 0 {
			o.DaysRemaining = days
		}

		orders = append(orders, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

// GetMarketStats returns all per-type rollups ordered by type_id.
func (s *Store) GetMarketStats(ctx context.Context) ([]*schema.MarketStat, error) {
	query := `
	SELECT type_id, type_name, price, total_stock, avg_vol, days,
	       group_id, group_name, last_update
	FROM marketstats
	ORDER BY type_id
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query market stats: %w", err)
	}
	defer rows.Close()

	var stats []*schema.MarketStat
	for rows.Next() {
		st, err := scanStat(rows)
		if err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}
	return stats, nil
}

// GetMarketStat returns the rollup for a single type.
// Returns sql.ErrNoRows if the type is not tracked.
func (s *Store) GetMarketStat(ctx context.Context, typeID int64) (*schema.MarketStat, error) {
	query := `
	SELECT type_id, type_name, price, total_stock, avg_vol, days,
	       group_id, group_name, last_update
	FROM marketstats
	WHERE type_id = ?
	`
	rows, err := s.conn.QueryContext(ctx, query, typeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stat for type %d: %w", typeID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	return scanStat(rows)
}

func scanStat(rows *sql.Rows) (*schema.MarketStat, error) {
	var st schema.MarketStat
	var lastUpdate string

	if err := rows.Scan(&st.TypeID, &st.TypeName, &st.Price, &st.TotalStock,
		&st.AvgVolume, &st.DaysSupply, &st.GroupID, &st.GroupName, &lastUpdate); err != nil {
		return nil, fmt.Errorf("failed to scan stat: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, lastUpdate); err == nil {
		st.LastUpdate = t
	}
	return &st, nil
}

// UpsertStat inserts or updates one rollup row.
func (s *Store) UpsertStat(ctx context.Context, st *schema.MarketStat) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("invalid stat: %w", err)
	}

	query := `
	INSERT INTO marketstats (
		type_id, type_name, price, total_stock, avg_vol, days,
		group_id, group_name, last_update
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(type_id) DO UPDATE SET
		type_name = excluded.type_name,
		price = excluded.price,
		total_stock = excluded.total_stock,
		avg_vol = excluded.avg_vol,
		days = excluded.days,
		group_id = excluded.group_id,
		group_name = excluded.group_name,
		last_update = excluded.last_update
	`
	_, err := s.conn.ExecContext(ctx, query,
		st.TypeID, st.TypeName, st.Price, st.TotalStock, st.AvgVolume,
		st.DaysSupply, st.GroupID, st.GroupName, st.LastUpdate.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert stat for type %d: %w", st.TypeID, err)
	}
	return nil
}

// UpsertOrder inserts or updates one order row.
func (s *Store) UpsertOrder(ctx context.Context, o *schema.MarketOrder) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("invalid order: %w", err)
	}

	query := `
	INSERT INTO marketorders (
		order_id, is_buy_order, type_id, type_name, price,
		volume_remain, duration, issued
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(order_id) DO UPDATE SET
		is_buy_order = excluded.is_buy_order,
		price = excluded.price,
		volume_remain = excluded.volume_remain,
		duration = excluded.duration,
		issued = excluded.issued
	`
	isBuy := 0
	if o.IsBuyOrder {
		isBuy = 1
	}
	_, err := s.conn.ExecContext(ctx, query,
		o.OrderID, isBuy, o.TypeID, o.TypeName, o.Price,
		o.VolumeRemain, o.Duration, o.Issued.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert order %d: %w", o.OrderID, err)
	}
	return nil
}

// GetMarketHistory returns the daily history for one type, oldest first.
func (s *Store) GetMarketHistory(ctx context.Context, typeID int64) ([]*schema.HistoryPoint, error) {
	query := `
	SELECT type_id, date, average, volume
	FROM market_history
	WHERE type_id = ?
	ORDER BY date
	`
	rows, err := s.conn.QueryContext(ctx, query, typeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for type %d: %w", typeID, err)
	}
	defer rows.Close()

	var points []*schema.HistoryPoint
	for rows.Next() {
		var p schema.HistoryPoint
		var date string
		if err := rows.Scan(&p.TypeID, &date, &p.Average, &p.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan history point: %w", err)
		}
		if t, err := time.Parse("2006-01-02", date); err == nil {
			p.Date = t
		}
		points = append(points, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return points, nil
}

// GetDoctrineFits returns doctrine rows for the fit that contains the
// given type, least-stocked module first.
func (s *Store) GetDoctrineFits(ctx context.Context, typeID int64) ([]*schema.DoctrineFit, error) {
	query := `
	SELECT fit_id, ship_name, type_id, type_name, fit_qty, fits_on_mkt,
	       total_stock, hub_price, avg_vol, days, group_name, category_id
	FROM doctrines
	WHERE fit_id IN (SELECT fit_id FROM doctrines WHERE type_id = ?)
	ORDER BY fits_on_mkt ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, typeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query doctrine fits for type %d: %w", typeID, err)
	}
	defer rows.Close()

	var fits []*schema.DoctrineFit
	for rows.Next() {
		var d schema.DoctrineFit
		if err := rows.Scan(&d.FitID, &d.ShipName, &d.TypeID, &d.TypeName,
			&d.FitQty, &d.FitsOnMkt, &d.TotalStock, &d.HubPrice,
			&d.AvgVolume, &d.DaysSupply, &d.GroupName, &d.CategoryID); err != nil {
			return nil, fmt.Errorf("failed to scan doctrine fit: %w", err)
		}
		fits = append(fits, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating doctrine fits: %w", err)
	}
	return fits, nil
}

// UpdateShipTarget sets the stocking target for one doctrine fit.
// This is the dashboard's only mutation of the replica outside sync.
func (s *Store) UpdateShipTarget(ctx context.Context, fitID int64, target int) error {
	query := `
	INSERT INTO ship_targets (fit_id, ship_target) VALUES (?, ?)
	ON CONFLICT(fit_id) DO UPDATE SET ship_target = excluded.ship_target
	`
	if _, err := s.conn.ExecContext(ctx, query, fitID, target); err != nil {
		return fmt.Errorf("failed to update target for fit %d: %w", fitID, err)
	}
	return nil
}

// LastUpdate returns MAX(last_update) from marketstats, the timestamp the
// sync validator compares against the remote. Zero time if the table is
// empty.
func (s *Store) LastUpdate(ctx context.Context) (time.Time, error) {
	var last sql.NullString
	err := s.conn.QueryRowContext(ctx,
		"SELECT MAX(last_update) FROM marketstats").Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last update: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, last.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last update %q: %w", last.String, err)
	}
	return t, nil
}

// GetOrderCount returns the number of order rows.
func (s *Store) GetOrderCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM marketorders").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get order count: %w", err)
	}
	return count, nil
}

// GetStatCount returns the number of rollup rows.
func (s *Store) GetStatCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM marketstats").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get stat count: %w", err)
	}
	return count, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/orthelt/wcmktd/internal/schema"
)

// setupTestStore creates a temporary replica for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return s
}

func testStat(typeID int64, lastUpdate time.Time) *schema.MarketStat {
	return &schema.MarketStat{
		TypeID:     typeID,
		TypeName:   "Test Type",
		Price:      1250000.50,
		TotalStock: 420,
		AvgVolume:  35.5,
		DaysSupply: 11.8,
		GroupID:    419,
		GroupName:  "Battlecruiser",
		LastUpdate: lastUpdate,
	}
}

func TestUpsertAndGetStat(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.UpsertStat(ctx, testStat(24702, now)); err != nil {
		t.Fatalf("UpsertStat failed: %v", err)
	}

	st, err := s.GetMarketStat(ctx, 24702)
	if err != nil {
		t.Fatalf("GetMarketStat failed: %v", err)
	}
	if st.TypeName != "Test Type" {
		t.Errorf("expected type name %q, got %q", "Test Type", st.TypeName)
	}
	if !st.LastUpdate.Equal(now) {
		t.Errorf("expected last_update %v, got %v", now, st.LastUpdate)
	}

	// Upsert again with a newer timestamp, must update not duplicate.
	later := now.Add(2 * time.Hour)
	if err := s.UpsertStat(ctx, testStat(24702, later)); err != nil {
		t.Fatalf("second UpsertStat failed: %v", err)
	}
	count, err := s.GetStatCount(ctx)
	if err != nil {
		t.Fatalf("GetStatCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 stat row after upsert, got %d", count)
	}
}

func TestGetMarketStatNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetMarketStat(context.Background(), 999999)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestBuyOrdersFilterAndOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	issued := time.Now().UTC().Add(-24 * time.Hour)
	orders := []*schema.MarketOrder{
		{OrderID: 3, IsBuyOrder: true, TypeID: 34, Price: 5.0, VolumeRemain: 100, Duration: 90, Issued: issued},
		{OrderID: 1, IsBuyOrder: true, TypeID: 34, Price: 5.2, VolumeRemain: 50, Duration: 90, Issued: issued},
		{OrderID: 2, IsBuyOrder: false, TypeID: 34, Price: 6.0, VolumeRemain: 10, Duration: 30, Issued: issued},
	}
	for _, o := range orders {
		if err := s.UpsertOrder(ctx, o); err != nil {
			t.Fatalf("UpsertOrder %d failed: %v", o.OrderID, err)
		}
	}

	buys, err := s.GetBuyOrders(ctx)
	if err != nil {
		t.Fatalf("GetBuyOrders failed: %v", err)
	}
	if len(buys) != 2 {
		t.Fatalf("expected 2 buy orders, got %d", len(buys))
	}
	if buys[0].OrderID != 1 || buys[1].OrderID != 3 {
		t.Errorf("buy orders not ordered by order_id: %d, %d", buys[0].OrderID, buys[1].OrderID)
	}
	if buys[0].DaysRemaining <= 0 {
		t.Errorf("expected positive days remaining, got %d", buys[0].DaysRemaining)
	}
}

func TestLastUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Empty table: zero time, no error.
	last, err := s.LastUpdate(ctx)
	if err != nil {
		t.Fatalf("LastUpdate on empty table failed: %v", err)
	}
	if !last.IsZero() {
		t.Errorf("expected zero time on empty table, got %v", last)
	}

	older := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 8, 1, 14, 0, 0, 0, time.UTC)
	if err := s.UpsertStat(ctx, testStat(34, older)); err != nil {
		t.Fatalf("UpsertStat failed: %v", err)
	}
	if err := s.UpsertStat(ctx, testStat(35, newer)); err != nil {
		t.Fatalf("UpsertStat failed: %v", err)
	}

	last, err = s.LastUpdate(ctx)
	if err != nil {
		t.Fatalf("LastUpdate failed: %v", err)
	}
	if !last.Equal(newer) {
		t.Errorf("expected last update %v, got %v", newer, last)
	}
}

func TestMarketHistoryOrdering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, day := range []string{"2025-08-03", "2025-08-01", "2025-08-02"} {
		if _, err := s.RawDB().ExecContext(ctx,
			"INSERT INTO market_history (type_id, date, average, volume) VALUES (?, ?, ?, ?)",
			34, day, 5.5, 1000); err != nil {
			t.Fatalf("insert history failed: %v", err)
		}
	}

	points, err := s.GetMarketHistory(ctx, 34)
	if err != nil {
		t.Fatalf("GetMarketHistory failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].Date.Before(points[i-1].Date) {
			t.Errorf("history not in date order at %d: %v before %v", i, points[i].Date, points[i-1].Date)
		}
	}
}

func TestDoctrineFitsForType(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rows := []struct {
		fitID  int64
		typeID int64
		name   string
		onMkt  float64
	}{
		{101, 24702, "Hurricane", 42},
		{101, 2048, "Damage Control II", 12},
		{202, 622, "Stabber", 99},
	}
	for _, r := range rows {
		if _, err := s.RawDB().ExecContext(ctx, `
			INSERT INTO doctrines (fit_id, ship_name, type_id, type_name, fit_qty, fits_on_mkt)
			VALUES (?, 'Hurricane Fleet', ?, ?, 1, ?)`,
			r.fitID, r.typeID, r.name, r.onMkt); err != nil {
			t.Fatalf("insert doctrine failed: %v", err)
		}
	}

	// Looking up by a module's type returns every row of its fit, not the
	// other fit, scarcest first.
	fits, err := s.GetDoctrineFits(ctx, 2048)
	if err != nil {
		t.Fatalf("GetDoctrineFits failed: %v", err)
	}
	if len(fits) != 2 {
		t.Fatalf("expected 2 rows for fit 101, got %d", len(fits))
	}
	if fits[0].TypeName != "Damage Control II" {
		t.Errorf("expected scarcest module first, got %q", fits[0].TypeName)
	}
}

func TestUpdateShipTarget(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.UpdateShipTarget(ctx, 101, 20); err != nil {
		t.Fatalf("UpdateShipTarget failed: %v", err)
	}
	if err := s.UpdateShipTarget(ctx, 101, 35); err != nil {
		t.Fatalf("second UpdateShipTarget failed: %v", err)
	}

	var target int
	if err := s.RawDB().QueryRowContext(ctx,
		"SELECT ship_target FROM ship_targets WHERE fit_id = 101").Scan(&target); err != nil {
		t.Fatalf("read target failed: %v", err)
	}
	if target != 35 {
		t.Errorf("expected target 35, got %d", target)
	}
}

func TestUpsertRejectsInvalidRows(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.UpsertStat(ctx, &schema.MarketStat{TypeID: 0}); err == nil {
		t.Error("expected error for stat with zero type_id")
	}
	if err := s.UpsertOrder(ctx, &schema.MarketOrder{OrderID: 1, TypeID: 34, Price: -1}); err == nil {
		t.Error("expected error for order with negative price")
	}
}

package schema

import (
	"fmt"
	"time"
)

// MarketOrder is one live order row from the marketorders table.
type MarketOrder struct {
	OrderID       int64     `json:"order_id"`
	IsBuyOrder    bool      `json:"is_buy_order"`
	TypeID        int64     `json:"type_id"`
	TypeName      string    `json:"type_name"`
	Price         float64   `json:"price"`
	VolumeRemain  int64     `json:"volume_remain"`
	Duration      int       `json:"duration"`
	Issued        time.Time `json:"issued"`
	DaysRemaining int       `json:"days_remaining"`
}

// Expiry returns when the order lapses.
func (o *MarketOrder) Expiry() time.Time {
	return o.Issued.AddDate(0, 0, o.Duration)
}

// Validate checks the fields that must hold for any order row.
func (o *MarketOrder) Validate() error {
	if o.OrderID <= 0 {
		return fmt.Errorf("order has invalid order_id %d", o.OrderID)
	}
	if o.TypeID <= 0 {
		return fmt.Errorf("order %d has invalid type_id %d", o.OrderID, o.TypeID)
	}
	if o.Price < 0 {
		return fmt.Errorf("order %d has negative price %f", o.OrderID, o.Price)
	}
	if o.VolumeRemain < 0 {
		return fmt.Errorf("order %d has negative volume_remain %d", o.OrderID, o.VolumeRemain)
	}
	return nil
}

// MarketStat is one per-type rollup row from the marketstats table.
// LastUpdate is the remote ESI refresh timestamp; the sync validator
// compares MAX(last_update) between replica and remote.
type MarketStat struct {
	TypeID     int64     `json:"type_id"`
	TypeName   string    `json:"type_name"`
	Price      float64   `json:"price"`
	TotalStock int64     `json:"total_stock"`
	AvgVolume  float64   `json:"avg_volume"`
	DaysSupply float64   `json:"days_supply"`
	GroupID    int64     `json:"group_id"`
	GroupName  string    `json:"group_name"`
	LastUpdate time.Time `json:"last_update"`
}

// Validate checks the fields that must hold for any stats row.
func (s *MarketStat) Validate() error {
	if s.TypeID <= 0 {
		return fmt.Errorf("stat has invalid type_id %d", s.TypeID)
	}
	if s.LastUpdate.IsZero() {
		return fmt.Errorf("stat for type %d has zero last_update", s.TypeID)
	}
	return nil
}

// HistoryPoint is one daily row from the market_history table.
type HistoryPoint struct {
	TypeID  int64     `json:"type_id"`
	Date    time.Time `json:"date"`
	Average float64   `json:"average"`
	Volume  int64     `json:"volume"`
}

// DoctrineFit is one row from the doctrines table: a module or hull
// requirement of a doctrine fit, joined against current market stock.
type DoctrineFit struct {
	FitID      int64   `json:"fit_id"`
	ShipName   string  `json:"ship_name"`
	TypeID     int64   `json:"type_id"`
	TypeName   string  `json:"type_name"`
	FitQty     int     `json:"fit_qty"`
	FitsOnMkt  float64 `json:"fits_on_mkt"`
	TotalStock int64   `json:"total_stock"`
	HubPrice   float64 `json:"hub_price"`
	AvgVolume  float64 `json:"avg_vol"`
	DaysSupply float64 `json:"days"`
	GroupName  string  `json:"group_name"`
	CategoryID int64   `json:"category_id"`
}

// Validate checks the fields that must hold for any doctrine row.
func (d *DoctrineFit) Validate() error {
	if d.FitID <= 0 {
		return fmt.Errorf("doctrine row has invalid fit_id %d", d.FitID)
	}
	if d.TypeID <= 0 {
		return fmt.Errorf("doctrine fit %d has invalid type_id %d", d.FitID, d.TypeID)
	}
	if d.FitQty < 0 {
		return fmt.Errorf("doctrine fit %d has negative fit_qty %d", d.FitID, d.FitQty)
	}
	return nil
}

// Package pricing converts daily milk quantities into prices, deposits and
// bottle compositions. All money is in minor units.
package pricing

import (
	"fmt"
	"sort"

	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/config"
)

var (
	ErrUnsupportedQuantity = billingerror.New(billingerror.ErrInvalidRequest, "unsupported_quantity")
	ErrInvalidTable        = billingerror.New(billingerror.ErrInvalidRequest, "invalid_price_table")
)

// Composition is the bottle split of one delivery.
type Composition struct {
	Large int `json:"large"`
	Small int `json:"small"`
}

// Table is an immutable snapshot of the configured price table.
type Table struct {
	rows      map[int]config.PriceRow
	order     []int
	largeUnit int
	smallUnit int
}

// NewTable builds a table from the billing config.
func NewTable(cfg config.BillingConfig) (*Table, error) {
	if cfg.LargeBottleUnit <= 0 || cfg.SmallBottleUnit <= 0 {
		return nil, fmt.Errorf("%w: bottle units must be positive", ErrInvalidTable)
	}
	t := &Table{
		rows:      make(map[int]config.PriceRow, len(cfg.PriceTable)),
		largeUnit: cfg.LargeBottleUnit,
		smallUnit: cfg.SmallBottleUnit,
	}
	for _, row := range cfg.PriceTable {
		if row.Quantity <= 0 || row.Quantity%cfg.SmallBottleUnit != 0 {
			return nil, fmt.Errorf("%w: quantity %d", ErrInvalidTable, row.Quantity)
		}
		if row.Price < 0 || row.Deposit < 0 {
			return nil, fmt.Errorf("%w: negative amount for %d", ErrInvalidTable, row.Quantity)
		}
		if _, dup := t.rows[row.Quantity]; dup {
			return nil, fmt.Errorf("%w: duplicate quantity %d", ErrInvalidTable, row.Quantity)
		}
		t.rows[row.Quantity] = row
		t.order = append(t.order, row.Quantity)
	}
	if len(t.order) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTable)
	}
	sort.Ints(t.order)
	return t, nil
}

// PriceFor returns the daily price of quantity.
func (t *Table) PriceFor(quantity int) (int64, error) {
	row, ok := t.rows[quantity]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedQuantity, quantity)
	}
	return row.Price, nil
}

// DepositFor returns the returnable-bottle deposit for quantity.
func (t *Table) DepositFor(quantity int) (int64, error) {
	row, ok := t.rows[quantity]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedQuantity, quantity)
	}
	return row.Deposit, nil
}

// Composition splits quantity into large and small bottles. A remainder of
// at least half a small bottle rounds up to one small bottle.
func (t *Table) Composition(quantity int) (Composition, error) {
	if quantity <= 0 || quantity%t.smallUnit != 0 {
		return Composition{}, fmt.Errorf("%w: %d", ErrUnsupportedQuantity, quantity)
	}
	c := Composition{Large: quantity / t.largeUnit}
	if quantity%t.largeUnit >= t.smallUnit/2 {
		c.Small = 1
	}
	return c, nil
}

// AllowedQuantities returns the configured quantities in ascending order.
func (t *Table) AllowedQuantities() []int {
	out := make([]int, len(t.order))
	copy(out, t.order)
	return out
}

// DaysCovered is how many whole days balance pays for at daily. Display only.
func DaysCovered(balance, daily int64) int64 {
	if balance <= 0 || daily <= 0 {
		return 0
	}
	return balance / daily
}

// Provider builds a Table from the current billing config on every call so
// reloaded price tables take effect without a restart.
type Provider struct {
	billing *config.BillingConfigHolder
}

func NewProvider(billing *config.BillingConfigHolder) *Provider {
	return &Provider{billing: billing}
}

// Current returns the table for the live config.
func (p *Provider) Current() (*Table, error) {
	return NewTable(p.billing.Get())
}

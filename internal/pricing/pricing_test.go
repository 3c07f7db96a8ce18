package pricing

import (
	"errors"
	"testing"

	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTable(config.DefaultBillingConfig())
	require.NoError(t, err)
	return table
}

func TestPriceAndDepositLookup(t *testing.T) {
	table := defaultTable(t)

	cases := []struct {
		qty     int
		price   int64
		deposit int64
		comp    Composition
	}{
		{qty: 500, price: 5500, deposit: 2500, comp: Composition{Large: 0, Small: 1}},
		{qty: 1000, price: 11000, deposit: 5000, comp: Composition{Large: 1, Small: 0}},
		{qty: 1500, price: 16500, deposit: 7500, comp: Composition{Large: 1, Small: 1}},
		{qty: 3000, price: 33000, deposit: 15000, comp: Composition{Large: 3, Small: 0}},
	}
	for _, tc := range cases {
		price, err := table.PriceFor(tc.qty)
		require.NoError(t, err)
		assert.Equal(t, tc.price, price, "price for %d", tc.qty)

		deposit, err := table.DepositFor(tc.qty)
		require.NoError(t, err)
		assert.Equal(t, tc.deposit, deposit, "deposit for %d", tc.qty)

		comp, err := table.Composition(tc.qty)
		require.NoError(t, err)
		assert.Equal(t, tc.comp, comp, "composition for %d", tc.qty)
	}
}

func TestUnsupportedQuantity(t *testing.T) {
	table := defaultTable(t)

	_, err := table.PriceFor(750)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedQuantity))
	assert.True(t, errors.Is(err, billingerror.ErrInvalidRequest))

	_, err = table.DepositFor(3500)
	assert.ErrorIs(t, err, ErrUnsupportedQuantity)

	_, err = table.Composition(0)
	assert.ErrorIs(t, err, ErrUnsupportedQuantity)
}

func TestAllowedQuantitiesAreOrdered(t *testing.T) {
	cfg := config.DefaultBillingConfig()
	cfg.PriceTable = []config.PriceRow{
		{Quantity: 1000, Price: 11000, Deposit: 5000},
		{Quantity: 500, Price: 5500, Deposit: 2500},
	}
	table, err := NewTable(cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{500, 1000}, table.AllowedQuantities())
}

func TestNewTableRejectsBadRows(t *testing.T) {
	cfg := config.DefaultBillingConfig()
	cfg.PriceTable = append(cfg.PriceTable, config.PriceRow{Quantity: 500, Price: 1})
	_, err := NewTable(cfg)
	assert.ErrorIs(t, err, ErrInvalidTable)

	cfg = config.DefaultBillingConfig()
	cfg.PriceTable = []config.PriceRow{{Quantity: 700, Price: 100}}
	_, err = NewTable(cfg)
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestDaysCovered(t *testing.T) {
	assert.Equal(t, int64(2), DaysCovered(25000, 11000))
	assert.Equal(t, int64(0), DaysCovered(-100, 11000))
	assert.Equal(t, int64(0), DaysCovered(100, 0))
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/clock"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	customerrepo "github.com/smallbiznis/milkrun/internal/customer/repository"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/milkrun/internal/ledger/service"
	"github.com/smallbiznis/milkrun/internal/penalty/domain"
	"github.com/smallbiznis/milkrun/internal/penalty/repository"
	"github.com/smallbiznis/milkrun/internal/status"
	subscriptionrepo "github.com/smallbiznis/milkrun/internal/subscription/repository"
	"github.com/smallbiznis/milkrun/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.March, 3, 4, 30, 0, 0, time.UTC)

type harness struct {
	*testkit.Fixture
	svc    domain.Service
	ledger ledgerdomain.Service
}

func newHarness(t *testing.T) *harness {
	f := testkit.NewFixture(t, testNow)
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: f.DB, Log: f.Log, GenID: f.Node, Clock: f.Clock})
	engine := status.NewEngine(status.Params{
		DB:           f.DB,
		Log:          f.Log,
		Calendar:     f.Calendar,
		Billing:      f.Billing,
		Ledger:       ledger,
		Customers:    customerrepo.Provide(),
		Subscription: subscriptionrepo.Provide(),
	})
	svc := NewService(Params{
		DB:       f.DB,
		Log:      f.Log,
		Calendar: f.Calendar,
		Billing:  f.Billing,
		Repo:     repository.Provide(),
		Ledger:   ledger,
		Status:   engine,
	})
	return &harness{Fixture: f, svc: svc, ledger: ledger}
}

func (h *harness) penalized(t *testing.T, ids ...snowflake.ID) []bool {
	t.Helper()
	out := make([]bool, len(ids))
	for i, id := range ids {
		var row ledgerdomain.BottleLedgerEntry
		require.NoError(t, h.DB.Where("id = ?", id).Take(&row).Error)
		out[i] = row.PenaltyAppliedAt != nil
	}
	return out
}

func TestCheckAndChargePenaltiesCapsAtHeldBottles(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 1, Balance: 20000})

	var ids []snowflake.ID
	for i := 0; i < 5; i++ {
		held := i + 1
		if i == 4 {
			held = 2 // three were lost track of through partial returns
		}
		row := h.SeedIssued(c.ID, ledgerdomain.SizeLarge, 1, clock.Date(2026, time.February, 10+i),
			ledgerdomain.BottleBalance{Large: held})
		ids = append(ids, row.ID)
	}

	results, err := h.svc.CheckAndChargePenalties(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]
	assert.True(t, res.Success)
	assert.Equal(t, c.ID, res.CustomerID)
	assert.Equal(t, 2, res.LargePenalized)
	assert.Zero(t, res.SmallPenalized)
	assert.Equal(t, int64(10000), res.TotalPenalty)
	assert.Equal(t, int64(10000), res.NewBalance)
	assert.Equal(t, []bool{true, true, false, false, false}, h.penalized(t, ids...))

	held, err := h.ledger.CurrentBottleBalance(context.Background(), nil, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.BottleBalance{}, held)
	h.RequireWalletReconciles(c.ID)

	again, err := h.svc.CheckAndChargePenalties(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, int64(10000), h.Wallet(c.ID).Balance)
}

func TestCheckAndChargePenaltiesIgnoresRecentBottles(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 1, Balance: 20000})
	// cutoff is 2026-02-24
	h.SeedIssued(c.ID, ledgerdomain.SizeSmall, 1, clock.Date(2026, time.February, 24), ledgerdomain.BottleBalance{Small: 1})
	recent := h.SeedIssued(c.ID, ledgerdomain.SizeLarge, 1, clock.Date(2026, time.February, 25), ledgerdomain.BottleBalance{Large: 1, Small: 1})

	results, err := h.svc.CheckAndChargePenalties(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].SmallPenalized)
	assert.Zero(t, results[0].LargePenalized)
	assert.Equal(t, int64(2500), results[0].TotalPenalty)
	assert.Equal(t, []bool{false}, h.penalized(t, recent.ID))
}

func TestCheckAndChargePenaltiesMayTurnCustomerInactive(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 1, Balance: 3000})
	h.SeedIssued(c.ID, ledgerdomain.SizeLarge, 1, clock.Date(2026, time.February, 1), ledgerdomain.BottleBalance{Large: 1})

	results, err := h.svc.CheckAndChargePenalties(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(-2000), results[0].NewBalance)
	assert.Equal(t, customerdomain.StatusInactive, results[0].NewStatus)
	assert.Equal(t, customerdomain.StatusInactive, h.Customer(c.ID).Status)
}

func TestCheckAndChargePenaltiesRecordsFailuresAndContinues(t *testing.T) {
	h := newHarness(t)
	broken := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 1, NoWallet: true})
	ok := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 1, Balance: 20000})
	h.SeedIssued(broken.ID, ledgerdomain.SizeLarge, 1, clock.Date(2026, time.February, 1), ledgerdomain.BottleBalance{Large: 1})
	h.SeedIssued(ok.ID, ledgerdomain.SizeLarge, 1, clock.Date(2026, time.February, 1), ledgerdomain.BottleBalance{Large: 1})

	results, err := h.svc.CheckAndChargePenalties(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byCustomer := map[snowflake.ID]domain.CustomerPenaltyResult{}
	for _, r := range results {
		byCustomer[r.CustomerID] = r
	}
	assert.False(t, byCustomer[broken.ID].Success)
	assert.NotEmpty(t, byCustomer[broken.ID].Error)
	assert.True(t, byCustomer[ok.ID].Success)
	assert.Equal(t, int64(15000), h.Wallet(ok.ID).Balance)
}

func TestCheckAndChargePenaltiesSkipsIssueReturnedOneAtATime(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 1, Balance: 20000})
	ctx := context.Background()

	old := clock.Date(2026, time.February, 1)
	first, err := h.ledger.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: c.ID, Action: ledgerdomain.ActionIssued, Size: ledgerdomain.SizeLarge, Quantity: 2, IssuedDate: &old,
	})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		h.Clock.Advance(time.Second)
		_, err = h.ledger.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
			CustomerID: c.ID, Action: ledgerdomain.ActionReturned, Size: ledgerdomain.SizeLarge, Quantity: 1,
		})
		require.NoError(t, err)
	}
	h.Clock.Advance(time.Second)
	yesterday := clock.Date(2026, time.March, 2)
	_, err = h.ledger.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: c.ID, Action: ledgerdomain.ActionIssued, Size: ledgerdomain.SizeLarge, Quantity: 1, IssuedDate: &yesterday,
	})
	require.NoError(t, err)

	results, err := h.svc.CheckAndChargePenalties(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int64(20000), h.Wallet(c.ID).Balance)
	assert.Equal(t, []bool{false}, h.penalized(t, first.ID))
}

func TestCheckAndChargePenaltiesCountsOnlyUnreturnedPart(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 1, Balance: 20000})
	ctx := context.Background()

	old := clock.Date(2026, time.February, 1)
	_, err := h.ledger.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: c.ID, Action: ledgerdomain.ActionIssued, Size: ledgerdomain.SizeLarge, Quantity: 3, IssuedDate: &old,
	})
	require.NoError(t, err)
	h.Clock.Advance(time.Second)
	_, err = h.ledger.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: c.ID, Action: ledgerdomain.ActionReturned, Size: ledgerdomain.SizeLarge, Quantity: 2,
	})
	require.NoError(t, err)

	results, err := h.svc.CheckAndChargePenalties(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].LargePenalized)
	assert.Equal(t, int64(5000), results[0].TotalPenalty)
	assert.Equal(t, int64(15000), h.Wallet(c.ID).Balance)
}

func TestImposePenaltyMarksOldestRows(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 1, Balance: 20000})
	older := h.SeedIssued(c.ID, ledgerdomain.SizeLarge, 2, clock.Date(2026, time.February, 1), ledgerdomain.BottleBalance{Large: 2})
	newer := h.SeedIssued(c.ID, ledgerdomain.SizeLarge, 1, clock.Date(2026, time.February, 2), ledgerdomain.BottleBalance{Large: 3})

	res, err := h.svc.ImposePenalty(context.Background(), domain.ImposePenaltyRequest{
		CustomerID: c.ID,
		FineAmount: 7000,
		LargeCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.LargePenalized)
	assert.Equal(t, int64(7000), res.TotalPenalty)
	assert.Equal(t, int64(13000), h.Wallet(c.ID).Balance)
	assert.Equal(t, []bool{true, false}, h.penalized(t, older.ID, newer.ID))

	held, err := h.ledger.CurrentBottleBalance(context.Background(), nil, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, held.Large)
}

func TestImposePenaltyValidation(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 1, Balance: 20000})

	cases := []struct {
		name string
		req  domain.ImposePenaltyRequest
		want error
	}{
		{"missing customer", domain.ImposePenaltyRequest{FineAmount: 1, LargeCount: 1}, domain.ErrInvalidCustomer},
		{"zero fine", domain.ImposePenaltyRequest{CustomerID: c.ID, LargeCount: 1}, domain.ErrInvalidFine},
		{"no counts", domain.ImposePenaltyRequest{CustomerID: c.ID, FineAmount: 1}, domain.ErrNothingToPenalize},
		{"no overdue rows", domain.ImposePenaltyRequest{CustomerID: c.ID, FineAmount: 1, SmallCount: 1}, domain.ErrNoOverdueBottles},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.ImposePenalty(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, billingerror.ErrInvalidRequest)
		})
	}

	h.SeedIssued(c.ID, ledgerdomain.SizeLarge, 1, clock.Date(2026, time.February, 1), ledgerdomain.BottleBalance{Large: 1})
	_, err := h.svc.ImposePenalty(context.Background(), domain.ImposePenaltyRequest{
		CustomerID: c.ID, FineAmount: 1000, SmallCount: 2,
	})
	assert.ErrorIs(t, err, domain.ErrNothingToPenalize)
	assert.Equal(t, int64(20000), h.Wallet(c.ID).Balance)
}

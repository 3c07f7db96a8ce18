package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/clock"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	"github.com/smallbiznis/milkrun/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestService(f *testkit.Fixture) *Service {
	return NewService(Params{
		DB:    f.DB,
		Log:   f.Log,
		GenID: f.Node,
		Clock: f.Clock,
	}).(*Service)
}

func testNow() time.Time {
	return time.Date(2026, time.March, 10, 4, 30, 0, 0, time.UTC)
}

func TestApplyWalletDeltaWritesBalanceAndTransaction(t *testing.T) {
	f := testkit.NewFixture(t, testNow())
	svc := newTestService(f)
	customer := f.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 7, Balance: 5000})
	wallet := f.Wallet(customer.ID)

	res, err := svc.ApplyWalletDelta(context.Background(), nil, ledgerdomain.WalletDeltaRequest{
		WalletID:    wallet.ID,
		Delta:       -11000,
		Kind:        ledgerdomain.KindMilkCharge,
		Description: "milk",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-6000), res.NewBalance)
	assert.NotZero(t, res.TransactionID)

	reloaded := f.Wallet(customer.ID)
	assert.Equal(t, int64(-6000), reloaded.Balance)
	require.NotNil(t, reloaded.NegativeBalanceSince)
	f.RequireWalletReconciles(customer.ID)

	res, err = svc.ApplyWalletDelta(context.Background(), nil, ledgerdomain.WalletDeltaRequest{
		WalletID: wallet.ID,
		Delta:    20000,
		Kind:     ledgerdomain.KindTopUp,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(14000), res.NewBalance)
	assert.Nil(t, f.Wallet(customer.ID).NegativeBalanceSince)
	f.RequireWalletReconciles(customer.ID)

	txns, err := svc.ListTransactions(context.Background(), customer.ID, 10)
	require.NoError(t, err)
	require.Len(t, txns, 3)
}

func TestApplyWalletDeltaValidatesSign(t *testing.T) {
	f := testkit.NewFixture(t, testNow())
	svc := newTestService(f)
	customer := f.SeedCustomer(testkit.CustomerSeed{})
	wallet := f.Wallet(customer.ID)

	_, err := svc.ApplyWalletDelta(context.Background(), nil, ledgerdomain.WalletDeltaRequest{
		WalletID: wallet.ID,
		Delta:    500,
		Kind:     ledgerdomain.KindMilkCharge,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidDelta)
	assert.ErrorIs(t, err, billingerror.ErrInvalidRequest)

	_, err = svc.ApplyWalletDelta(context.Background(), nil, ledgerdomain.WalletDeltaRequest{
		WalletID: wallet.ID,
		Delta:    0,
		Kind:     ledgerdomain.KindTopUp,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidDelta)
}

func TestApplyWalletDeltaMissingWallet(t *testing.T) {
	f := testkit.NewFixture(t, testNow())
	svc := newTestService(f)

	_, err := svc.ApplyWalletDelta(context.Background(), nil, ledgerdomain.WalletDeltaRequest{
		WalletID: f.Node.Generate(),
		Delta:    100,
		Kind:     ledgerdomain.KindTopUp,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrWalletNotFound)
	assert.ErrorIs(t, err, billingerror.ErrNotFound)
	assert.False(t, errors.Is(err, billingerror.ErrAborted))
}

func TestApplyWalletDeltaRollsBackWithCallerTransaction(t *testing.T) {
	f := testkit.NewFixture(t, testNow())
	svc := newTestService(f)
	customer := f.SeedCustomer(testkit.CustomerSeed{Balance: 1000})
	wallet := f.Wallet(customer.ID)

	boom := errors.New("boom")
	err := f.DB.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.ApplyWalletDelta(context.Background(), tx, ledgerdomain.WalletDeltaRequest{
			WalletID: wallet.ID,
			Delta:    -400,
			Kind:     ledgerdomain.KindMilkCharge,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, int64(1000), f.Wallet(customer.ID).Balance)
	f.RequireWalletReconciles(customer.ID)
}

func TestApplyWalletDeltaConcurrentChargesSerialize(t *testing.T) {
	f := testkit.NewFixture(t, testNow())
	svc := newTestService(f)
	customer := f.SeedCustomer(testkit.CustomerSeed{Balance: 10000})
	wallet := f.Wallet(customer.ID)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyWalletDelta(context.Background(), nil, ledgerdomain.WalletDeltaRequest{
				WalletID: wallet.ID,
				Delta:    -500,
				Kind:     ledgerdomain.KindMilkCharge,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(6000), f.Wallet(customer.ID).Balance)
	f.RequireWalletReconciles(customer.ID)
}

func TestCreateWalletIsIdempotent(t *testing.T) {
	f := testkit.NewFixture(t, testNow())
	svc := newTestService(f)
	customer := f.SeedCustomer(testkit.CustomerSeed{NoWallet: true})

	first, err := svc.CreateWallet(context.Background(), nil, customer.ID)
	require.NoError(t, err)
	second, err := svc.CreateWallet(context.Background(), nil, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	balance, err := svc.CurrentBalance(context.Background(), nil, customer.ID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestAppendBottleLedgerCarriesOtherSize(t *testing.T) {
	f := testkit.NewFixture(t, testNow())
	svc := newTestService(f)
	customer := f.SeedCustomer(testkit.CustomerSeed{})
	ctx := context.Background()
	today := f.Calendar.Today()

	_, err := svc.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: customer.ID, Action: ledgerdomain.ActionIssued, Size: ledgerdomain.SizeLarge, Quantity: 2, IssuedDate: &today,
	})
	require.NoError(t, err)
	f.Clock.Advance(time.Second)
	entry, err := svc.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: customer.ID, Action: ledgerdomain.ActionIssued, Size: ledgerdomain.SizeSmall, Quantity: 1, IssuedDate: &today,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, entry.LargeBalanceAfter)
	assert.Equal(t, 1, entry.SmallBalanceAfter)

	f.Clock.Advance(time.Second)
	entry, err = svc.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: customer.ID, Action: ledgerdomain.ActionReturned, Size: ledgerdomain.SizeLarge, Quantity: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, entry.LargeBalanceAfter, "decrements floor at zero")
	assert.Equal(t, 1, entry.SmallBalanceAfter)

	balance, err := svc.CurrentBottleBalance(ctx, nil, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.BottleBalance{Large: 0, Small: 1}, balance)

	var issued ledgerdomain.BottleLedgerEntry
	require.NoError(t, f.DB.Where("customer_id = ? AND action = ? AND size = ?", customer.ID, ledgerdomain.ActionIssued, ledgerdomain.SizeLarge).Take(&issued).Error)
	assert.NotNil(t, issued.ReturnedAt, "fully returned issue is closed")
}

func TestAppendBottleLedgerPartialReturnKeepsRowOpen(t *testing.T) {
	f := testkit.NewFixture(t, testNow())
	svc := newTestService(f)
	customer := f.SeedCustomer(testkit.CustomerSeed{})
	ctx := context.Background()
	day := clock.Date(2026, time.March, 1)

	_, err := svc.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: customer.ID, Action: ledgerdomain.ActionIssued, Size: ledgerdomain.SizeLarge, Quantity: 3, IssuedDate: &day,
	})
	require.NoError(t, err)
	f.Clock.Advance(time.Second)
	_, err = svc.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: customer.ID, Action: ledgerdomain.ActionReturned, Size: ledgerdomain.SizeLarge, Quantity: 1,
	})
	require.NoError(t, err)

	var issued ledgerdomain.BottleLedgerEntry
	require.NoError(t, f.DB.Where("customer_id = ? AND action = ?", customer.ID, ledgerdomain.ActionIssued).Take(&issued).Error)
	assert.Nil(t, issued.ReturnedAt)

	balance, err := svc.CurrentBottleBalance(ctx, nil, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, balance.Large)
}

func TestAppendBottleLedgerReturnsAccumulateFIFO(t *testing.T) {
	f := testkit.NewFixture(t, testNow())
	svc := newTestService(f)
	customer := f.SeedCustomer(testkit.CustomerSeed{})
	ctx := context.Background()
	older := clock.Date(2026, time.February, 1)
	newer := clock.Date(2026, time.February, 2)

	first, err := svc.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: customer.ID, Action: ledgerdomain.ActionIssued, Size: ledgerdomain.SizeLarge, Quantity: 2, IssuedDate: &older,
	})
	require.NoError(t, err)
	f.Clock.Advance(time.Second)
	second, err := svc.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: customer.ID, Action: ledgerdomain.ActionIssued, Size: ledgerdomain.SizeLarge, Quantity: 2, IssuedDate: &newer,
	})
	require.NoError(t, err)

	reload := func(id snowflake.ID) ledgerdomain.BottleLedgerEntry {
		var row ledgerdomain.BottleLedgerEntry
		require.NoError(t, f.DB.Where("id = ?", id).Take(&row).Error)
		return row
	}

	f.Clock.Advance(time.Second)
	_, err = svc.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: customer.ID, Action: ledgerdomain.ActionReturned, Size: ledgerdomain.SizeLarge, Quantity: 1,
	})
	require.NoError(t, err)
	row := reload(first.ID)
	assert.Equal(t, 1, row.ReturnedQuantity)
	assert.Nil(t, row.ReturnedAt)

	f.Clock.Advance(time.Second)
	_, err = svc.AppendBottleLedger(ctx, nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: customer.ID, Action: ledgerdomain.ActionReturned, Size: ledgerdomain.SizeLarge, Quantity: 2,
	})
	require.NoError(t, err)
	row = reload(first.ID)
	assert.Equal(t, 2, row.ReturnedQuantity)
	assert.NotNil(t, row.ReturnedAt)
	row = reload(second.ID)
	assert.Equal(t, 1, row.ReturnedQuantity)
	assert.Nil(t, row.ReturnedAt)
	assert.Equal(t, 1, row.Outstanding())
}

func TestAppendBottleLedgerUnknownCustomer(t *testing.T) {
	f := testkit.NewFixture(t, testNow())
	svc := newTestService(f)

	_, err := svc.AppendBottleLedger(context.Background(), nil, ledgerdomain.BottleLedgerRequest{
		CustomerID: f.Node.Generate(), Action: ledgerdomain.ActionIssued, Size: ledgerdomain.SizeLarge, Quantity: 1,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrCustomerNotFound)
	assert.ErrorIs(t, err, billingerror.ErrNotFound)
}

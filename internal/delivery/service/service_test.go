package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/clock"
	"github.com/smallbiznis/milkrun/internal/config"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	customerrepo "github.com/smallbiznis/milkrun/internal/customer/repository"
	"github.com/smallbiznis/milkrun/internal/delivery/domain"
	"github.com/smallbiznis/milkrun/internal/delivery/repository"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/milkrun/internal/ledger/service"
	"github.com/smallbiznis/milkrun/internal/pricing"
	"github.com/smallbiznis/milkrun/internal/status"
	subscriptiondomain "github.com/smallbiznis/milkrun/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/milkrun/internal/subscription/repository"
	"github.com/smallbiznis/milkrun/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const route snowflake.ID = 77

// 06:00 in Asia/Kolkata on the 3rd, inside the grace period.
var testNow = time.Date(2026, time.March, 3, 0, 30, 0, 0, time.UTC)

type harness struct {
	*testkit.Fixture
	svc    domain.Service
	ledger ledgerdomain.Service
	status *status.Engine
}

func newHarness(t *testing.T) *harness {
	f := testkit.NewFixture(t, testNow)
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: f.DB, Log: f.Log, GenID: f.Node, Clock: f.Clock})
	customers := customerrepo.Provide()
	subs := subscriptionrepo.Provide()
	engine := status.NewEngine(status.Params{
		DB:           f.DB,
		Log:          f.Log,
		Calendar:     f.Calendar,
		Billing:      f.Billing,
		Ledger:       ledger,
		Customers:    customers,
		Subscription: subs,
	})
	svc := NewService(Params{
		DB:            f.DB,
		Log:           f.Log,
		GenID:         f.Node,
		Calendar:      f.Calendar,
		Billing:       f.Billing,
		Pricing:       pricing.NewProvider(f.Billing),
		Repo:          repository.Provide(),
		Customers:     customers,
		Subscriptions: subs,
		Ledger:        ledger,
		Status:        engine,
	})
	return &harness{Fixture: f, svc: svc, ledger: ledger, status: engine}
}

func (h *harness) ensureToday(t *testing.T) domain.EnsureResult {
	t.Helper()
	today := h.Calendar.Today()
	res, err := h.svc.EnsureDeliveriesForWindow(context.Background(), domain.EnsureWindowRequest{
		DeliveryPersonID: route,
		DayStart:         today,
		DayEnd:           today,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) deliveryFor(t *testing.T, customerID snowflake.ID) domain.Delivery {
	t.Helper()
	var d domain.Delivery
	require.NoError(t, h.DB.Where("customer_id = ? AND delivery_date = ?", customerID, h.Calendar.Today()).Take(&d).Error)
	return d
}

func TestEnsureDeliveriesIsIdempotent(t *testing.T) {
	h := newHarness(t)
	a := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: route, Quantity: 1000, Balance: 20000})
	b := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: route, Quantity: 1500, Balance: 0})
	h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: route, Balance: -1})
	h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 99, Balance: 5000})

	first := h.ensureToday(t)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 1, first.Ineligible)
	assert.Empty(t, first.Failed)

	var before []domain.Delivery
	require.NoError(t, h.DB.Order("id asc").Find(&before).Error)

	second := h.ensureToday(t)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Skipped)

	var after []domain.Delivery
	require.NoError(t, h.DB.Order("id asc").Find(&after).Error)
	assert.Equal(t, before, after)

	da := h.deliveryFor(t, a.ID)
	assert.Equal(t, int64(11000), da.Charge)
	assert.Equal(t, int64(5000), da.Deposit)
	db := h.deliveryFor(t, b.ID)
	assert.Equal(t, int64(16500), db.Charge)
	assert.Equal(t, 1, db.SmallBottles, "zero balance is still eligible")
}

func TestEnsureDeliveriesAppliesSameDayModification(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: route, Quantity: 1000, Balance: 20000})
	require.NoError(t, h.DB.Create(&subscriptiondomain.DeliveryModification{
		ID:           h.Node.Generate(),
		CustomerID:   c.ID,
		DeliveryDate: h.Calendar.Today(),
		Quantity:     2500,
		LargeBottles: 2,
		SmallBottles: 1,
		Notes:        "party",
		CreatedAt:    h.Clock.Now(),
		UpdatedAt:    h.Clock.Now(),
	}).Error)

	h.ensureToday(t)
	d := h.deliveryFor(t, c.ID)
	assert.Equal(t, 2500, d.Quantity)
	assert.Equal(t, int64(27500), d.Charge, "charge is priced from the override, not the cached daily price")
	assert.Equal(t, 2, d.LargeBottles)
	assert.Equal(t, "party", d.Notes)
}

func TestEnsureDeliveriesSkipsPausedDay(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: route, Balance: 20000})
	tomorrow := clock.AddDays(h.Calendar.Today(), 1)
	h.SeedPause(c.ID, tomorrow)

	res, err := h.svc.EnsureDeliveriesForWindow(context.Background(), domain.EnsureWindowRequest{
		DeliveryPersonID: route,
		DayStart:         h.Calendar.Today(),
		DayEnd:           clock.AddDays(h.Calendar.Today(), 2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Ineligible)
}

func TestEnsureDeliveriesValidatesWindow(t *testing.T) {
	h := newHarness(t)
	today := h.Calendar.Today()

	_, err := h.svc.EnsureDeliveriesForWindow(context.Background(), domain.EnsureWindowRequest{
		DeliveryPersonID: route, DayStart: today, DayEnd: clock.AddDays(today, -1),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	_, err = h.svc.EnsureDeliveriesForWindow(context.Background(), domain.EnsureWindowRequest{
		DayStart: today, DayEnd: today,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDeliveryPerson)
}

func TestMarkDeliveredEndToEndScenario(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: route, Quantity: 1000, Balance: 5000})
	h.ensureToday(t)
	d := h.deliveryFor(t, c.ID)

	res, err := h.svc.MarkDelivery(context.Background(), domain.MarkDeliveryRequest{
		DeliveryID: d.ID,
		Outcome:    domain.OutcomeDelivered,
	})
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, domain.OutcomeDelivered, res.Outcome)
	assert.Equal(t, int64(11000), res.Charged)
	assert.Equal(t, int64(-6000), res.NewBalance)
	assert.Equal(t, customerdomain.StatusInactive, res.NewStatus)
	assert.True(t, res.BecameInactive)
	assert.NotEmpty(t, res.Warning)
	h.RequireWalletReconciles(c.ID)

	bottles, err := h.ledger.CurrentBottleBalance(context.Background(), nil, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.BottleBalance{Large: 1}, bottles)

	wallet := h.Wallet(c.ID)
	_, err = h.ledger.ApplyWalletDelta(context.Background(), nil, ledgerdomain.WalletDeltaRequest{
		WalletID: wallet.ID,
		Delta:    20000,
		Kind:     ledgerdomain.KindTopUp,
	})
	require.NoError(t, err)
	next, err := h.status.UpdateStatus(context.Background(), nil, c.ID)
	require.NoError(t, err)
	assert.Equal(t, customerdomain.StatusActive, next)
	assert.Equal(t, int64(14000), h.Wallet(c.ID).Balance)
	h.RequireWalletReconciles(c.ID)
}

func TestMarkDeliveryPreCheckForcesNotDelivered(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: route, Quantity: 1000, Balance: 20000})
	h.ensureToday(t)
	d := h.deliveryFor(t, c.ID)

	// balance went negative after the row was scheduled
	wallet := h.Wallet(c.ID)
	_, err := h.ledger.ApplyWalletDelta(context.Background(), nil, ledgerdomain.WalletDeltaRequest{
		WalletID: wallet.ID, Delta: -25000, Kind: ledgerdomain.KindAdminDebit,
	})
	require.NoError(t, err)

	res, err := h.svc.MarkDelivery(context.Background(), domain.MarkDeliveryRequest{
		DeliveryID: d.ID,
		Outcome:    domain.OutcomeDelivered,
	})
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, domain.OutcomeNotDelivered, res.Outcome)
	assert.Zero(t, res.Charged)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, customerdomain.StatusInactive, res.NewStatus)

	assert.Equal(t, int64(-5000), h.Wallet(c.ID).Balance)
	settled := h.deliveryFor(t, c.ID)
	assert.Equal(t, domain.StatusNotDelivered, settled.Status)
	assert.Contains(t, settled.Notes, "negative")
	assert.Zero(t, h.Subscription(c.ID).DeliveryCount)
}

func TestMarkDeliverySettlesAtMostOnce(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: route, Quantity: 1000, Balance: 50000})
	h.ensureToday(t)
	d := h.deliveryFor(t, c.ID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.MarkDelivery(context.Background(), domain.MarkDeliveryRequest{
				DeliveryID: d.ID,
				Outcome:    domain.OutcomeDelivered,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if assert.ErrorIs(t, err, domain.ErrDeliveryNotScheduled) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 3, rejected)
	assert.Equal(t, int64(39000), h.Wallet(c.ID).Balance)
	h.RequireWalletReconciles(c.ID)
}

func TestMarkDeliveryErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.MarkDelivery(context.Background(), domain.MarkDeliveryRequest{
		DeliveryID: h.Node.Generate(),
		Outcome:    domain.OutcomeDelivered,
	})
	assert.ErrorIs(t, err, domain.ErrDeliveryNotFound)
	assert.ErrorIs(t, err, billingerror.ErrNotFound)

	_, err = h.svc.MarkDelivery(context.Background(), domain.MarkDeliveryRequest{
		DeliveryID: h.Node.Generate(),
		Outcome:    "LOST",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestMarkDeliveryRecordsCollectedBottles(t *testing.T) {
	h := newHarness(t)
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: route, Quantity: 1500, Balance: 50000})
	h.ensureToday(t)
	d := h.deliveryFor(t, c.ID)

	_, err := h.svc.MarkDelivery(context.Background(), domain.MarkDeliveryRequest{
		DeliveryID:       d.ID,
		Outcome:          domain.OutcomeDelivered,
		BottlesCollected: domain.BottlesCollected{Large: 3, Small: 0},
	})
	require.NoError(t, err)

	bottles, err := h.ledger.CurrentBottleBalance(context.Background(), nil, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.BottleBalance{Large: 0, Small: 1}, bottles, "returns are capped at zero")
}

func TestDepositRetryOnSkip(t *testing.T) {
	h := newHarness(t)
	h.UpdateBilling(func(cfg *config.BillingConfig) { cfg.DepositInterval = 3 })
	// 1000 per day, 5000 deposit. Balance covers milk but not milk + deposit.
	c := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: route, Quantity: 1000, Balance: 13000})
	require.NoError(t, h.DB.Model(&subscriptiondomain.Subscription{}).
		Where("customer_id = ?", c.ID).
		Updates(map[string]any{"delivery_count": 2, "last_deposit_at_delivery_count": 0}).Error)

	h.ensureToday(t)
	res, err := h.svc.MarkDelivery(context.Background(), domain.MarkDeliveryRequest{
		DeliveryID: h.deliveryFor(t, c.ID).ID,
		Outcome:    domain.OutcomeDelivered,
	})
	require.NoError(t, err)
	assert.True(t, res.DepositSkipped)
	assert.Zero(t, res.DepositCharged)
	assert.Equal(t, int64(2000), res.NewBalance)
	sub := h.Subscription(c.ID)
	assert.Equal(t, 3, sub.DeliveryCount)
	assert.Equal(t, 0, sub.LastDepositAtDeliveryCount, "checkpoint unchanged after a skip")

	// top up so the retry can succeed on the next delivery
	_, err = h.ledger.ApplyWalletDelta(context.Background(), nil, ledgerdomain.WalletDeltaRequest{
		WalletID: h.Wallet(c.ID).ID, Delta: 20000, Kind: ledgerdomain.KindTopUp,
	})
	require.NoError(t, err)

	h.AdvanceDays(1)
	h.ensureToday(t)
	res, err = h.svc.MarkDelivery(context.Background(), domain.MarkDeliveryRequest{
		DeliveryID: h.deliveryFor(t, c.ID).ID,
		Outcome:    domain.OutcomeDelivered,
	})
	require.NoError(t, err)
	assert.False(t, res.DepositSkipped)
	assert.Equal(t, int64(5000), res.DepositCharged)
	assert.Equal(t, int64(6000), res.NewBalance)
	sub = h.Subscription(c.ID)
	assert.Equal(t, 4, sub.DeliveryCount)
	assert.Equal(t, 4, sub.LastDepositAtDeliveryCount)
	h.RequireWalletReconciles(c.ID)
}

func TestListAndGetDeliveries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: route, Balance: 20000})
	h.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 99, Balance: 20000})
	h.ensureToday(t)

	listed, err := h.svc.List(ctx, domain.ListDeliveriesRequest{DeliveryPersonID: route})
	require.NoError(t, err)
	require.Len(t, listed, 1, "other routes are not listed")
	assert.Equal(t, a.ID, listed[0].CustomerID)

	tomorrow := clock.AddDays(h.Calendar.Today(), 1)
	listed, err = h.svc.List(ctx, domain.ListDeliveriesRequest{DeliveryPersonID: route, Date: tomorrow})
	require.NoError(t, err)
	assert.Empty(t, listed)

	got, err := h.svc.Get(ctx, h.deliveryFor(t, a.ID).ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, got.Status)

	_, err = h.svc.Get(ctx, 424242)
	assert.ErrorIs(t, err, domain.ErrDeliveryNotFound)
	assert.Equal(t, billingerror.ErrNotFound, billingerror.Kind(err))
}

// Package testkit builds in-memory billing fixtures for package tests.
package testkit

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/milkrun/internal/clock"
	"github.com/smallbiznis/milkrun/internal/config"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	deliverydomain "github.com/smallbiznis/milkrun/internal/delivery/domain"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	monthlydomain "github.com/smallbiznis/milkrun/internal/monthlypayment/domain"
	subscriptiondomain "github.com/smallbiznis/milkrun/internal/subscription/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table the billing engine owns.
func Models() []any {
	return []any{
		&customerdomain.Customer{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Pause{},
		&subscriptiondomain.DeliveryModification{},
		&ledgerdomain.Wallet{},
		&ledgerdomain.WalletTransaction{},
		&ledgerdomain.BottleLedgerEntry{},
		&deliverydomain.Delivery{},
		&monthlydomain.MonthlyPayment{},
	}
}

// OpenDB opens a private in-memory database named after the test and
// migrates the billing models plus any extra ones.
func OpenDB(t *testing.T, extra ...any) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(append(Models(), extra...)...))
	return db
}

// Fixture bundles the collaborators most billing services need.
type Fixture struct {
	T        *testing.T
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    *clock.FakeClock
	Billing  *config.BillingConfigHolder
	Calendar *clock.Calendar
	Log      *zap.Logger
}

// NewFixture starts the fake clock at now with the default billing config.
func NewFixture(t *testing.T, now time.Time, extra ...any) *Fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	billing, err := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	require.NoError(t, err)
	fake := clock.NewFakeClock(now)

	return &Fixture{
		T:        t,
		DB:       OpenDB(t, extra...),
		Node:     node,
		Clock:    fake,
		Billing:  billing,
		Calendar: clock.NewCalendar(fake, billing),
		Log:      zap.NewNop(),
	}
}

// AdvanceDays moves the fake clock forward by whole days.
func (f *Fixture) AdvanceDays(n int) {
	f.Clock.Advance(time.Duration(n) * 24 * time.Hour)
}

// UpdateBilling swaps the billing config for the rest of the test.
func (f *Fixture) UpdateBilling(mutate func(*config.BillingConfig)) {
	f.T.Helper()
	cfg := f.Billing.Get()
	mutate(&cfg)
	require.NoError(f.T, f.Billing.Set(cfg))
}

type CustomerSeed struct {
	DeliveryPersonID snowflake.ID
	Status           customerdomain.Status
	Quantity         int
	Balance          int64
	NoSubscription   bool
	NoWallet         bool
}

// SeedCustomer inserts a customer with an optional subscription and a
// wallet whose opening balance is backed by a transaction row.
func (f *Fixture) SeedCustomer(seed CustomerSeed) customerdomain.Customer {
	f.T.Helper()
	now := f.Clock.Now().UTC()
	status := seed.Status
	if status == "" {
		status = customerdomain.StatusActive
	}
	customer := customerdomain.Customer{
		ID:        f.Node.Generate(),
		Name:      "customer",
		Phone:     "+910000000000",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if seed.DeliveryPersonID != 0 {
		dp := seed.DeliveryPersonID
		customer.DeliveryPersonID = &dp
	}
	require.NoError(f.T, f.DB.Create(&customer).Error)

	if !seed.NoSubscription {
		qty := seed.Quantity
		if qty == 0 {
			qty = 1000
		}
		f.SeedSubscription(customer.ID, qty)
	}
	if !seed.NoWallet {
		f.SeedWallet(customer.ID, seed.Balance)
	}
	return customer
}

// SeedSubscription inserts an ACTIVE subscription priced from the config.
func (f *Fixture) SeedSubscription(customerID snowflake.ID, qty int) subscriptiondomain.Subscription {
	f.T.Helper()
	cfg := f.Billing.Get()
	var price int64
	for _, row := range cfg.PriceTable {
		if row.Quantity == qty {
			price = row.Price
		}
	}
	require.NotZero(f.T, price, "quantity %d not in price table", qty)

	large := qty / cfg.LargeBottleUnit
	small := 0
	if qty%cfg.LargeBottleUnit >= cfg.SmallBottleUnit/2 {
		small = 1
	}
	now := f.Clock.Now().UTC()
	sub := subscriptiondomain.Subscription{
		ID:            f.Node.Generate(),
		CustomerID:    customerID,
		DailyQuantity: qty,
		DailyPrice:    price,
		LargeBottles:  large,
		SmallBottles:  small,
		Status:        subscriptiondomain.SubscriptionStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(f.T, f.DB.Create(&sub).Error)
	return sub
}

// SeedWallet inserts a wallet at balance. Non-zero balances get an opening
// transaction so the wallet reconciles with its history.
func (f *Fixture) SeedWallet(customerID snowflake.ID, balance int64) ledgerdomain.Wallet {
	f.T.Helper()
	now := f.Clock.Now().UTC()
	wallet := ledgerdomain.Wallet{
		ID:         f.Node.Generate(),
		CustomerID: customerID,
		Balance:    balance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if balance < 0 {
		wallet.NegativeBalanceSince = &now
	}
	require.NoError(f.T, f.DB.Create(&wallet).Error)
	if balance == 0 {
		return wallet
	}

	kind := ledgerdomain.KindTopUp
	if balance < 0 {
		kind = ledgerdomain.KindAdminDebit
	}
	require.NoError(f.T, f.DB.Create(&ledgerdomain.WalletTransaction{
		ID:           f.Node.Generate(),
		WalletID:     wallet.ID,
		CustomerID:   customerID,
		Kind:         kind,
		Amount:       balance,
		BalanceAfter: balance,
		Description:  "opening balance",
		CreatedAt:    now,
	}).Error)
	return wallet
}

func (f *Fixture) SeedPause(customerID snowflake.ID, date datatypes.Date) {
	f.T.Helper()
	require.NoError(f.T, f.DB.Create(&subscriptiondomain.Pause{
		ID:         f.Node.Generate(),
		CustomerID: customerID,
		PauseDate:  date,
		CreatedAt:  f.Clock.Now().UTC(),
	}).Error)
}

func (f *Fixture) SeedMonthlyPayment(customerID snowflake.ID, year int, month time.Month, status monthlydomain.Status) monthlydomain.MonthlyPayment {
	f.T.Helper()
	now := f.Clock.Now().UTC()
	mp := monthlydomain.MonthlyPayment{
		ID:         f.Node.Generate(),
		CustomerID: customerID,
		Year:       year,
		Month:      int(month),
		TotalCost:  1000,
		AmountDue:  1000,
		Status:     status,
		DueDate:    clock.Date(year, month, f.Billing.Get().GracePeriodEndDay),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if status == monthlydomain.StatusPaid {
		mp.AmountDue = 0
		mp.AmountPaid = mp.TotalCost
		mp.PaidAt = &now
	}
	require.NoError(f.T, f.DB.Create(&mp).Error)
	return mp
}

// SeedIssued inserts an ISSUED bottle row on date with explicit running
// balances, bypassing the ledger service.
func (f *Fixture) SeedIssued(customerID snowflake.ID, size ledgerdomain.BottleSize, qty int, date datatypes.Date, balance ledgerdomain.BottleBalance) ledgerdomain.BottleLedgerEntry {
	f.T.Helper()
	entry := ledgerdomain.BottleLedgerEntry{
		ID:                f.Node.Generate(),
		CustomerID:        customerID,
		Action:            ledgerdomain.ActionIssued,
		Size:              size,
		Quantity:          qty,
		LargeBalanceAfter: balance.Large,
		SmallBalanceAfter: balance.Small,
		IssuedDate:        &date,
		CreatedAt:         f.Clock.Now().UTC(),
	}
	require.NoError(f.T, f.DB.Create(&entry).Error)
	return entry
}

// Wallet reloads the customer's wallet.
func (f *Fixture) Wallet(customerID snowflake.ID) ledgerdomain.Wallet {
	f.T.Helper()
	var wallet ledgerdomain.Wallet
	require.NoError(f.T, f.DB.Where("customer_id = ?", customerID).Take(&wallet).Error)
	return wallet
}

// Customer reloads the customer row.
func (f *Fixture) Customer(customerID snowflake.ID) customerdomain.Customer {
	f.T.Helper()
	var customer customerdomain.Customer
	require.NoError(f.T, f.DB.Where("id = ?", customerID).Take(&customer).Error)
	return customer
}

// Subscription reloads the customer's subscription.
func (f *Fixture) Subscription(customerID snowflake.ID) subscriptiondomain.Subscription {
	f.T.Helper()
	var sub subscriptiondomain.Subscription
	require.NoError(f.T, f.DB.Where("customer_id = ?", customerID).Take(&sub).Error)
	return sub
}

// RequireWalletReconciles asserts balance == balance_after of the latest
// transaction.
func (f *Fixture) RequireWalletReconciles(customerID snowflake.ID) {
	f.T.Helper()
	wallet := f.Wallet(customerID)
	var latest ledgerdomain.WalletTransaction
	err := f.DB.Where("wallet_id = ?", wallet.ID).Order("created_at desc, id desc").Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		require.Zero(f.T, wallet.Balance)
		return
	}
	require.NoError(f.T, err)
	require.Equal(f.T, latest.BalanceAfter, wallet.Balance, "wallet balance must equal latest balance_after")
}

// Package status derives a customer's service status from subscription,
// assignment, pause, monthly payment and wallet state.
package status

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/clock"
	"github.com/smallbiznis/milkrun/internal/config"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	monthlydomain "github.com/smallbiznis/milkrun/internal/monthlypayment/domain"
	subscriptiondomain "github.com/smallbiznis/milkrun/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Snapshot is everything the status rules look at, as of one civil day.
type Snapshot struct {
	HasSubscription   bool
	SubscriptionHeld  bool
	HasDeliveryPerson bool
	PausedFromDay     bool
	PausedOnDay       bool
	DayOfMonth        int
	GracePeriodEndDay int
	MonthSettled      bool
	HasWallet         bool
	Balance           int64
}

// pastGrace reports whether the month's payment is due and unsettled.
func (s Snapshot) pastGrace() bool {
	return s.DayOfMonth > s.GracePeriodEndDay && !s.MonthSettled
}

// Evaluate applies the status rules top to bottom; the first match wins.
func Evaluate(s Snapshot) customerdomain.Status {
	switch {
	case !s.HasSubscription:
		return customerdomain.StatusVisitor
	case !s.HasDeliveryPerson:
		return customerdomain.StatusPendingApproval
	case s.PausedFromDay || s.SubscriptionHeld:
		return customerdomain.StatusPaused
	case s.pastGrace():
		return customerdomain.StatusInactive
	case s.HasWallet && s.Balance >= 0:
		return customerdomain.StatusActive
	default:
		return customerdomain.StatusInactive
	}
}

// Eligible is the delivery-creation gate. It is evaluated from fresh state
// rather than the persisted status, which can lag one recomputation.
func Eligible(s Snapshot) bool {
	return s.HasSubscription &&
		!s.SubscriptionHeld &&
		s.HasDeliveryPerson &&
		!s.PausedOnDay &&
		!s.pastGrace() &&
		s.HasWallet &&
		s.Balance >= 0
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Calendar     *clock.Calendar
	Billing      *config.BillingConfigHolder
	Ledger       ledgerdomain.Service
	Customers    customerdomain.Repository
	Subscription subscriptiondomain.Repository
}

type Engine struct {
	db           *gorm.DB
	log          *zap.Logger
	calendar     *clock.Calendar
	billing      *config.BillingConfigHolder
	ledger       ledgerdomain.Service
	customers    customerdomain.Repository
	subscription subscriptiondomain.Repository
}

func NewEngine(p Params) *Engine {
	return &Engine{
		db:           p.DB,
		log:          p.Log.Named("status.engine"),
		calendar:     p.Calendar,
		billing:      p.Billing,
		ledger:       p.Ledger,
		customers:    p.Customers,
		subscription: p.Subscription,
	}
}

func (e *Engine) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return e.db.WithContext(ctx)
}

// Load reads the snapshot of customerID as of the civil day.
func (e *Engine) Load(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, day datatypes.Date) (Snapshot, error) {
	db := e.conn(ctx, tx)

	customer, err := e.customers.FindByID(ctx, db, customerID)
	if err != nil {
		return Snapshot{}, err
	}
	if customer == nil {
		return Snapshot{}, customerdomain.ErrCustomerNotFound
	}

	dayTime := time.Time(day)
	snap := Snapshot{
		HasDeliveryPerson: customer.HasDeliveryPerson(),
		DayOfMonth:        dayTime.Day(),
		GracePeriodEndDay: e.billing.Get().GracePeriodEndDay,
	}

	sub, err := e.subscription.FindByCustomer(ctx, db, customerID)
	if err != nil {
		return Snapshot{}, err
	}
	if sub != nil && sub.Status != subscriptiondomain.SubscriptionStatusCanceled {
		snap.HasSubscription = true
		snap.SubscriptionHeld = sub.Status == subscriptiondomain.SubscriptionStatusPaused
	}

	if snap.PausedFromDay, err = e.subscription.HasPauseOnOrAfter(ctx, db, customerID, day); err != nil {
		return Snapshot{}, err
	}
	if snap.PausedFromDay {
		if snap.PausedOnDay, err = e.subscription.HasPauseOn(ctx, db, customerID, day); err != nil {
			return Snapshot{}, err
		}
	}

	if snap.DayOfMonth > snap.GracePeriodEndDay {
		var paid int64
		err := db.Model(&monthlydomain.MonthlyPayment{}).
			Where("customer_id = ? AND year = ? AND month = ? AND status = ?",
				customerID, dayTime.Year(), int(dayTime.Month()), monthlydomain.StatusPaid).
			Count(&paid).Error
		if err != nil {
			return Snapshot{}, err
		}
		snap.MonthSettled = paid > 0
	}

	balance, err := e.ledger.CurrentBalance(ctx, db, customerID)
	switch {
	case errors.Is(err, ledgerdomain.ErrWalletNotFound):
	case err != nil:
		return Snapshot{}, err
	default:
		snap.HasWallet = true
		snap.Balance = balance
	}
	return snap, nil
}

// CalculateStatus derives today's status without writing anything.
func (e *Engine) CalculateStatus(ctx context.Context, customerID snowflake.ID) (customerdomain.Status, error) {
	snap, err := e.Load(ctx, nil, customerID, e.calendar.Today())
	if err != nil {
		return "", err
	}
	return Evaluate(snap), nil
}

// UpdateStatus recomputes today's status and persists it when it changed.
func (e *Engine) UpdateStatus(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (customerdomain.Status, error) {
	db := e.conn(ctx, tx)
	snap, err := e.Load(ctx, db, customerID, e.calendar.Today())
	if err != nil {
		return "", err
	}
	next := Evaluate(snap)

	customer, err := e.customers.FindByID(ctx, db, customerID)
	if err != nil {
		return "", err
	}
	if customer == nil {
		return "", customerdomain.ErrCustomerNotFound
	}
	if customer.Status == next {
		return next, nil
	}
	if err := e.customers.UpdateStatus(ctx, db, customerID, next); err != nil {
		return "", billingerror.Aborted(err)
	}

	e.log.Info("customer status changed",
		zap.String("customer_id", customerID.String()),
		zap.String("from", string(customer.Status)),
		zap.String("to", string(next)),
		zap.Int64("balance", snap.Balance),
	)
	return next, nil
}

// CanReceiveDelivery reports whether the customer may get a delivery today.
func (e *Engine) CanReceiveDelivery(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (bool, error) {
	return e.CanReceiveDeliveryOn(ctx, tx, customerID, e.calendar.Today())
}

// CanReceiveDeliveryOn evaluates the delivery gate for a civil day using
// the current wallet balance.
func (e *Engine) CanReceiveDeliveryOn(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, day datatypes.Date) (bool, error) {
	snap, err := e.Load(ctx, tx, customerID, day)
	if err != nil {
		return false, err
	}
	return Eligible(snap), nil
}

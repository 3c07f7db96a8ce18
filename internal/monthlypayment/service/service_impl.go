package service

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
	"github.com/smallbiznis/milkrun/internal/monthlypayment/domain"
	obsmetrics "github.com/smallbiznis/milkrun/internal/observability/metrics"
	"github.com/smallbiznis/milkrun/internal/status"
	subscriptiondomain "github.com/smallbiznis/milkrun/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Calendar      *clock.Calendar
	Billing       *config.BillingConfigHolder
	Repo          domain.Repository
	Customers     customerdomain.Repository
	Subscriptions subscriptiondomain.Repository
	Ledger        ledgerdomain.Service
	Status        *status.Engine
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	calendar      *clock.Calendar
	billing       *config.BillingConfigHolder
	repo          domain.Repository
	customers     customerdomain.Repository
	subscriptions subscriptiondomain.Repository
	ledger        ledgerdomain.Service
	status        *status.Engine
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("monthlypayment.service"),
		genID:         p.GenID,
		calendar:      p.Calendar,
		billing:       p.Billing,
		repo:          p.Repo,
		customers:     p.Customers,
		subscriptions: p.Subscriptions,
		ledger:        p.Ledger,
		status:        p.Status,
		obsMetrics:    p.ObsMetrics,
	}
}

func (s *Service) now() time.Time {
	return s.calendar.Now().UTC()
}

func validPeriod(year int, month time.Month) bool {
	return year > 0 && month >= time.January && month <= time.December
}

// CreateMonthlyPaymentRecords opens one record per billable customer for
// the period. Customers without a delivery person are never listed, so
// Skipped only counts records that already existed. A wallet that already covers the month's cost marks the
// record PAID without debiting it; the daily milk charges still draw the
// wallet down.
func (s *Service) CreateMonthlyPaymentRecords(ctx context.Context, year int, month time.Month) (domain.CycleResult, error) {
	if !validPeriod(year, month) {
		return domain.CycleResult{}, domain.ErrInvalidPeriod
	}
	cfg := s.billing.Get()
	days := clock.DaysInMonth(year, month)
	dueDate := clock.Date(year, month, cfg.GracePeriodEndDay)

	subs, err := s.subscriptions.ListBillable(ctx, s.db)
	if err != nil {
		return domain.CycleResult{}, err
	}

	var result domain.CycleResult
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		created, paid, err := s.createRecord(ctx, sub, year, month, days, dueDate)
		if err != nil {
			s.log.Warn("monthly record failed",
				zap.String("customer_id", sub.CustomerID.String()),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, domain.CustomerFail{
				CustomerID: sub.CustomerID,
				Error:      err.Error(),
			})
			continue
		}
		switch {
		case !created:
			result.Skipped++
		case paid:
			result.Created++
			result.AutoPaid++
		default:
			result.Created++
		}
	}

	s.obsMetrics.RecordMonthlyPayment(ctx, string(domain.StatusPaid), result.AutoPaid)
	s.obsMetrics.RecordMonthlyPayment(ctx, string(domain.StatusPending), result.Created-result.AutoPaid)
	s.log.Info("monthly payment records created",
		zap.Int("year", year),
		zap.Int("month", int(month)),
		zap.Int("created", result.Created),
		zap.Int("auto_paid", result.AutoPaid),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

// createRecord reports whether a record was inserted and whether it was
// inserted as PAID. A false created means the period already has one.
func (s *Service) createRecord(ctx context.Context, sub *subscriptiondomain.Subscription, year int, month time.Month, days int, dueDate datatypes.Date) (bool, bool, error) {
	balance, err := s.ledger.CurrentBalance(ctx, nil, sub.CustomerID)
	if errors.Is(err, ledgerdomain.ErrWalletNotFound) {
		balance, err = 0, nil
	}
	if err != nil {
		return false, false, err
	}

	now := s.now()
	totalCost := sub.DailyPrice * int64(days)
	record := &domain.MonthlyPayment{
		ID:         s.genID.Generate(),
		CustomerID: sub.CustomerID,
		Year:       year,
		Month:      int(month),
		TotalCost:  totalCost,
		DueDate:    dueDate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if balance >= totalCost {
		record.Status = domain.StatusPaid
		record.AmountPaid = totalCost
		record.PaidAt = &now
	} else {
		record.Status = domain.StatusPending
		record.AmountDue = max(0, totalCost-balance)
	}

	created, err := s.repo.InsertIfAbsent(ctx, s.db, record)
	if err != nil {
		return false, false, err
	}
	return created, created && record.Status == domain.StatusPaid, nil
}

// EnforceOverduePayments marks the period's PENDING records OVERDUE once
// the grace day has passed and deactivates those customers. Customers
// still awaiting approval keep their status.
func (s *Service) EnforceOverduePayments(ctx context.Context, year int, month time.Month) (domain.CycleResult, error) {
	if !validPeriod(year, month) {
		return domain.CycleResult{}, domain.ErrInvalidPeriod
	}
	dueDate := clock.Date(year, month, s.billing.Get().GracePeriodEndDay)
	today := s.calendar.Today()
	if !time.Time(today).After(time.Time(dueDate)) {
		s.log.Debug("overdue enforcement not due",
			zap.String("today", clock.Format(today)),
			zap.String("due_date", clock.Format(dueDate)),
		)
		return domain.CycleResult{}, nil
	}

	var result domain.CycleResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customerIDs, err := s.repo.ListPendingCustomers(ctx, tx, year, month)
		if err != nil {
			return err
		}
		if len(customerIDs) == 0 {
			return nil
		}
		now := s.now()
		marked, err := s.repo.MarkOverdue(ctx, tx, year, month, now)
		if err != nil {
			return err
		}
		result.MarkedOverdue = int(marked)

		for _, id := range customerIDs {
			customer, err := s.customers.FindByIDForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			if customer == nil ||
				customer.Status == customerdomain.StatusPendingApproval ||
				customer.Status == customerdomain.StatusInactive {
				continue
			}
			if err := s.customers.UpdateStatus(ctx, tx, id, customerdomain.StatusInactive); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error("overdue enforcement failed",
			zap.Int("year", year),
			zap.Int("month", int(month)),
			zap.Error(err),
		)
		return domain.CycleResult{}, billingerror.Aborted(err)
	}

	s.obsMetrics.RecordMonthlyPayment(ctx, string(domain.StatusOverdue), result.MarkedOverdue)
	s.log.Info("overdue payments enforced",
		zap.Int("year", year),
		zap.Int("month", int(month)),
		zap.Int("marked_overdue", result.MarkedOverdue),
	)
	return result, nil
}

// MarkPaid records an outside settlement against a PENDING or OVERDUE
// record. The record turns PAID once nothing is left due.
func (s *Service) MarkPaid(ctx context.Context, req domain.MarkPaidRequest) (domain.MonthlyPayment, error) {
	if req.Amount <= 0 {
		return domain.MonthlyPayment{}, domain.ErrInvalidAmount
	}

	var payment domain.MonthlyPayment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrPaymentNotFound
		}
		if current.Status == domain.StatusPaid {
			return domain.ErrPaymentSettled
		}

		now := s.now()
		current.AmountPaid += req.Amount
		current.AmountDue = max(0, current.AmountDue-req.Amount)
		current.UpdatedAt = now
		if current.AmountDue == 0 {
			current.Status = domain.StatusPaid
			current.PaidAt = &now
		}
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}
		if _, err := s.status.UpdateStatus(ctx, tx, current.CustomerID); err != nil {
			return err
		}
		payment = *current
		return nil
	})
	if err != nil {
		return domain.MonthlyPayment{}, billingerror.Aborted(err)
	}

	if payment.Status == domain.StatusPaid {
		s.obsMetrics.RecordMonthlyPayment(ctx, string(domain.StatusPaid), 1)
	}
	s.log.Info("monthly payment settled",
		zap.String("payment_id", payment.ID.String()),
		zap.String("customer_id", payment.CustomerID.String()),
		zap.Int64("amount", req.Amount),
		zap.String("status", string(payment.Status)),
	)
	return payment, nil
}

func (s *Service) Get(ctx context.Context, customerID snowflake.ID, year int, month time.Month) (domain.MonthlyPayment, error) {
	if !validPeriod(year, month) {
		return domain.MonthlyPayment{}, domain.ErrInvalidPeriod
	}
	payment, err := s.repo.FindByPeriod(ctx, s.db, customerID, year, month)
	if err != nil {
		return domain.MonthlyPayment{}, err
	}
	if payment == nil {
		return domain.MonthlyPayment{}, domain.ErrPaymentNotFound
	}
	return *payment, nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/clock"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	"github.com/smallbiznis/milkrun/internal/delivery/domain"
	"github.com/smallbiznis/milkrun/internal/pricing"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type ensureOutcome int

const (
	ensureCreated ensureOutcome = iota
	ensureExisting
	ensureIneligible
)

// EnsureDeliveriesForWindow creates at most one SCHEDULED delivery per
// eligible customer of the delivery person per civil day in the window.
// Existing rows are left untouched, so reruns change nothing.
func (s *Service) EnsureDeliveriesForWindow(ctx context.Context, req domain.EnsureWindowRequest) (domain.EnsureResult, error) {
	if req.DeliveryPersonID == 0 {
		return domain.EnsureResult{}, domain.ErrInvalidDeliveryPerson
	}
	start, end := time.Time(req.DayStart), time.Time(req.DayEnd)
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return domain.EnsureResult{}, domain.ErrInvalidWindow
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > maxWindowDays {
		return domain.EnsureResult{}, fmt.Errorf("%w: %d days", domain.ErrInvalidWindow, days)
	}

	table, err := s.pricing.Current()
	if err != nil {
		return domain.EnsureResult{}, err
	}
	customers, err := s.customers.ListByDeliveryPerson(ctx, s.db, req.DeliveryPersonID)
	if err != nil {
		return domain.EnsureResult{}, err
	}

	var result domain.EnsureResult
	for day := req.DayStart; !time.Time(day).After(end); day = clock.AddDays(day, 1) {
		for _, customer := range customers {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			outcome, err := s.ensureOne(ctx, table, customer, req.DeliveryPersonID, day)
			if err != nil {
				s.log.Warn("ensure delivery failed",
					zap.String("customer_id", customer.ID.String()),
					zap.String("delivery_date", clock.Format(day)),
					zap.Error(err),
				)
				result.Failed = append(result.Failed, domain.CustomerFail{
					CustomerID: customer.ID,
					Date:       day,
					Error:      err.Error(),
				})
				continue
			}
			switch outcome {
			case ensureCreated:
				result.Created++
			case ensureExisting:
				result.Skipped++
			case ensureIneligible:
				result.Ineligible++
			}
		}
	}

	s.log.Info("deliveries ensured",
		zap.String("delivery_person_id", req.DeliveryPersonID.String()),
		zap.String("day_start", clock.Format(req.DayStart)),
		zap.String("day_end", clock.Format(req.DayEnd)),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("ineligible", result.Ineligible),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (s *Service) ensureOne(ctx context.Context, table *pricing.Table, customer *customerdomain.Customer, deliveryPersonID snowflake.ID, day datatypes.Date) (ensureOutcome, error) {
	eligible, err := s.status.CanReceiveDeliveryOn(ctx, nil, customer.ID, day)
	if err != nil {
		return 0, err
	}
	if !eligible {
		return ensureIneligible, nil
	}

	sub, err := s.subscriptions.FindByCustomer(ctx, s.db, customer.ID)
	if err != nil {
		return 0, err
	}
	if sub == nil {
		return ensureIneligible, nil
	}

	quantity, large, small, notes := sub.DailyQuantity, sub.LargeBottles, sub.SmallBottles, ""
	mod, err := s.subscriptions.FindModification(ctx, s.db, customer.ID, day)
	if err != nil {
		return 0, err
	}
	if mod != nil {
		quantity, large, small, notes = mod.Quantity, mod.LargeBottles, mod.SmallBottles, mod.Notes
	}

	charge, err := table.PriceFor(quantity)
	if err != nil {
		return 0, err
	}
	deposit, err := table.DepositFor(quantity)
	if err != nil {
		return 0, err
	}

	now := s.now()
	created, err := s.repo.InsertIfAbsent(ctx, s.db, &domain.Delivery{
		ID:               s.genID.Generate(),
		CustomerID:       customer.ID,
		DeliveryDate:     day,
		DeliveryPersonID: deliveryPersonID,
		Quantity:         quantity,
		LargeBottles:     large,
		SmallBottles:     small,
		Charge:           charge,
		Deposit:          deposit,
		Notes:            notes,
		Status:           domain.StatusScheduled,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return 0, err
	}
	if !created {
		return ensureExisting, nil
	}
	return ensureCreated, nil
}

package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/milkrun/internal/clock"
	deliverydomain "github.com/smallbiznis/milkrun/internal/delivery/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func (s *Scheduler) penaltySweepJob(ctx context.Context, _ datatypes.Date) (outcome, error) {
	results, err := s.penaltySvc.CheckAndChargePenalties(ctx)
	out := outcome{resource: "customer", detail: results}
	for _, r := range results {
		if r.Success {
			out.processed++
		} else {
			out.failed++
		}
	}
	return out, err
}

func (s *Scheduler) monthlyRecordsJob(ctx context.Context, today datatypes.Date) (outcome, error) {
	t := time.Time(today)
	res, err := s.monthlySvc.CreateMonthlyPaymentRecords(ctx, t.Year(), t.Month())
	return outcome{
		processed: res.Created,
		failed:    len(res.Failed),
		resource:  "monthly_payment",
		detail:    res,
	}, err
}

func (s *Scheduler) overdueEnforcementJob(ctx context.Context, today datatypes.Date) (outcome, error) {
	t := time.Time(today)
	res, err := s.monthlySvc.EnforceOverduePayments(ctx, t.Year(), t.Month())
	return outcome{
		processed: res.MarkedOverdue,
		failed:    len(res.Failed),
		resource:  "monthly_payment",
		detail:    res,
	}, err
}

// ensureDeliveriesJob schedules tomorrow for every delivery person. One
// route's failure does not stop the others.
func (s *Scheduler) ensureDeliveriesJob(ctx context.Context, today datatypes.Date) (outcome, error) {
	out := outcome{resource: "delivery"}
	persons, err := s.customers.ListDeliveryPersonIDs(ctx, s.db)
	if err != nil {
		return out, err
	}

	tomorrow := clock.AddDays(today, 1)
	total := deliverydomain.EnsureResult{}
	var jobErr error
	for _, personID := range persons {
		if err := ctx.Err(); err != nil {
			return out, errors.Join(jobErr, err)
		}
		res, err := s.deliverySvc.EnsureDeliveriesForWindow(ctx, deliverydomain.EnsureWindowRequest{
			DeliveryPersonID: personID,
			DayStart:         tomorrow,
			DayEnd:           tomorrow,
		})
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, "scheduler.route.failed", err,
				zap.String("delivery_person_id", personID.String()),
			)
			continue
		}
		total.Created += res.Created
		total.Skipped += res.Skipped
		total.Ineligible += res.Ineligible
		total.Failed = append(total.Failed, res.Failed...)
	}

	out.processed = total.Created
	out.failed = len(total.Failed)
	out.detail = total
	return out, jobErr
}

func (s *Scheduler) statusRefreshJob(ctx context.Context, _ datatypes.Date) (outcome, error) {
	res, err := s.status.RefreshAll(ctx)
	return outcome{
		processed: res.Checked,
		failed:    len(res.Failed),
		resource:  "customer",
		detail:    res,
	}, err
}

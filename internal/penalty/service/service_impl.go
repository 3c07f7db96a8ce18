package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/clock"
	"github.com/smallbiznis/milkrun/internal/config"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/milkrun/internal/observability/metrics"
	"github.com/smallbiznis/milkrun/internal/penalty/domain"
	"github.com/smallbiznis/milkrun/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	sourceSweep = "sweep"
	sourceAdmin = "admin"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Calendar   *clock.Calendar
	Billing    *config.BillingConfigHolder
	Repo       domain.Repository
	Ledger     ledgerdomain.Service
	Status     *status.Engine
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	calendar   *clock.Calendar
	billing    *config.BillingConfigHolder
	repo       domain.Repository
	ledger     ledgerdomain.Service
	status     *status.Engine
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("penalty.service"),
		calendar:   p.Calendar,
		billing:    p.Billing,
		repo:       p.Repo,
		ledger:     p.Ledger,
		status:     p.Status,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) now() time.Time {
	return s.calendar.Now().UTC()
}

// cutoff is the latest issued_date that counts as overdue today.
func (s *Service) cutoff(threshold int) datatypes.Date {
	return clock.AddDays(s.calendar.Today(), -threshold)
}

// CheckAndChargePenalties fines every customer holding overdue bottles.
// The fined count per size never exceeds the bottles the customer still
// holds. Each customer is its own atomic unit.
func (s *Service) CheckAndChargePenalties(ctx context.Context) ([]domain.CustomerPenaltyResult, error) {
	cfg := s.billing.Get()
	cutoff := s.cutoff(cfg.PenaltyThresholdDays)

	customerIDs, err := s.repo.ListOverdueCustomers(ctx, s.db, cutoff)
	if err != nil {
		return nil, err
	}

	results := make([]domain.CustomerPenaltyResult, 0, len(customerIDs))
	failed := 0
	for _, customerID := range customerIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.sweepCustomer(ctx, customerID, cutoff, cfg)
		if err != nil {
			failed++
			s.log.Warn("penalty charge failed",
				zap.String("customer_id", customerID.String()),
				zap.Error(err),
			)
			results = append(results, domain.CustomerPenaltyResult{
				CustomerID: customerID,
				Error:      err.Error(),
			})
			continue
		}
		if res.LargePenalized+res.SmallPenalized == 0 {
			continue
		}
		results = append(results, res)
	}

	s.log.Info("penalty sweep finished",
		zap.String("cutoff", clock.Format(cutoff)),
		zap.Int("customers", len(customerIDs)),
		zap.Int("charged", len(results)-failed),
		zap.Int("failed", failed),
	)
	return results, nil
}

func (s *Service) sweepCustomer(ctx context.Context, customerID snowflake.ID, cutoff datatypes.Date, cfg config.BillingConfig) (domain.CustomerPenaltyResult, error) {
	result := domain.CustomerPenaltyResult{CustomerID: customerID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.ListOverdueForUpdate(ctx, tx, customerID, cutoff)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		held, err := s.ledger.CurrentBottleBalance(ctx, tx, customerID)
		if err != nil {
			return err
		}

		large := min(overdueCount(rows, ledgerdomain.SizeLarge), held.Large)
		small := min(overdueCount(rows, ledgerdomain.SizeSmall), held.Small)
		if large+small == 0 {
			return nil
		}
		fine := int64(large)*cfg.LargeBottleFine + int64(small)*cfg.SmallBottleFine
		desc := fmt.Sprintf("overdue bottles: %d large, %d small", large, small)
		return s.charge(ctx, tx, rows, large, small, fine, desc, &result)
	})
	if err != nil {
		return domain.CustomerPenaltyResult{}, billingerror.Aborted(err)
	}
	if result.Success {
		s.obsMetrics.RecordPenalty(ctx, sourceSweep, result.LargePenalized+result.SmallPenalized)
	}
	return result, nil
}

// ImposePenalty charges an admin-chosen fine and marks the oldest overdue
// rows per size up to the requested counts.
func (s *Service) ImposePenalty(ctx context.Context, req domain.ImposePenaltyRequest) (domain.CustomerPenaltyResult, error) {
	if req.CustomerID == 0 {
		return domain.CustomerPenaltyResult{}, domain.ErrInvalidCustomer
	}
	if req.FineAmount <= 0 {
		return domain.CustomerPenaltyResult{}, domain.ErrInvalidFine
	}
	if req.LargeCount < 0 || req.SmallCount < 0 || req.LargeCount+req.SmallCount == 0 {
		return domain.CustomerPenaltyResult{}, domain.ErrNothingToPenalize
	}

	cutoff := s.cutoff(s.billing.Get().PenaltyThresholdDays)
	result := domain.CustomerPenaltyResult{CustomerID: req.CustomerID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.ListOverdueForUpdate(ctx, tx, req.CustomerID, cutoff)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return domain.ErrNoOverdueBottles
		}

		large := min(req.LargeCount, overdueCount(rows, ledgerdomain.SizeLarge))
		small := min(req.SmallCount, overdueCount(rows, ledgerdomain.SizeSmall))
		if large+small == 0 {
			return domain.ErrNothingToPenalize
		}
		desc := fmt.Sprintf("admin penalty: %d large, %d small", large, small)
		return s.charge(ctx, tx, rows, large, small, req.FineAmount, desc, &result)
	})
	if err != nil {
		err = billingerror.Aborted(err)
		if !billingerror.IsBusiness(err) {
			s.log.Error("impose penalty failed",
				zap.String("customer_id", req.CustomerID.String()),
				zap.Error(err),
			)
		}
		return domain.CustomerPenaltyResult{}, err
	}

	s.obsMetrics.RecordPenalty(ctx, sourceAdmin, result.LargePenalized+result.SmallPenalized)
	s.log.Info("penalty imposed",
		zap.String("customer_id", req.CustomerID.String()),
		zap.Int64("fine", req.FineAmount),
		zap.Int("large", result.LargePenalized),
		zap.Int("small", result.SmallPenalized),
	)
	return result, nil
}

// charge debits the fine, stamps the FIFO rows, appends the
// PENALTY_CHARGED movements and recomputes status, all inside tx.
// Penalties are never rejected for insufficient balance.
func (s *Service) charge(
	ctx context.Context,
	tx *gorm.DB,
	rows []ledgerdomain.BottleLedgerEntry,
	large, small int,
	fine int64,
	desc string,
	result *domain.CustomerPenaltyResult,
) error {
	customerID := result.CustomerID
	wallet, err := s.ledger.WalletByCustomer(ctx, tx, customerID)
	if err != nil {
		return err
	}
	result.NewBalance = wallet.Balance

	if fine > 0 {
		res, err := s.ledger.ApplyWalletDelta(ctx, tx, ledgerdomain.WalletDeltaRequest{
			WalletID:    wallet.ID,
			Delta:       -fine,
			Kind:        ledgerdomain.KindPenaltyCharge,
			Description: desc,
		})
		if err != nil {
			return err
		}
		result.NewBalance = res.NewBalance
	}

	ids := append(
		pickFIFO(rows, ledgerdomain.SizeLarge, large),
		pickFIFO(rows, ledgerdomain.SizeSmall, small)...,
	)
	if err := s.repo.MarkPenalized(ctx, tx, ids, s.now()); err != nil {
		return err
	}

	for _, m := range []struct {
		size ledgerdomain.BottleSize
		qty  int
	}{
		{ledgerdomain.SizeLarge, large},
		{ledgerdomain.SizeSmall, small},
	} {
		if m.qty == 0 {
			continue
		}
		_, err := s.ledger.AppendBottleLedger(ctx, tx, ledgerdomain.BottleLedgerRequest{
			CustomerID:  customerID,
			Action:      ledgerdomain.ActionPenaltyCharged,
			Size:        m.size,
			Quantity:    m.qty,
			Description: desc,
		})
		if err != nil {
			return err
		}
	}

	newStatus, err := s.status.UpdateStatus(ctx, tx, customerID)
	if err != nil {
		return err
	}
	result.LargePenalized = large
	result.SmallPenalized = small
	result.TotalPenalty = fine
	result.NewStatus = newStatus
	result.Success = true
	return nil
}

func overdueCount(rows []ledgerdomain.BottleLedgerEntry, size ledgerdomain.BottleSize) int {
	n := 0
	for _, row := range rows {
		if row.Size == size {
			n += row.Outstanding()
		}
	}
	return n
}

// pickFIFO returns the oldest rows of size whose outstanding bottles reach
// count. The last row is taken whole even when it only partly covers the
// count.
func pickFIFO(rows []ledgerdomain.BottleLedgerEntry, size ledgerdomain.BottleSize, count int) []snowflake.ID {
	var ids []snowflake.ID
	covered := 0
	for _, row := range rows {
		if covered >= count {
			break
		}
		if row.Size != size {
			continue
		}
		ids = append(ids, row.ID)
		covered += row.Outstanding()
	}
	return ids
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/clock"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	"github.com/smallbiznis/milkrun/internal/delivery/domain"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	"github.com/smallbiznis/milkrun/internal/pricing"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const referenceDelivery = "delivery"

// MarkDelivery settles a SCHEDULED delivery exactly once. A wallet that is
// already negative turns a DELIVERED request into NOT_DELIVERED without a
// charge; that substitution is reported in the result, not as an error.
func (s *Service) MarkDelivery(ctx context.Context, req domain.MarkDeliveryRequest) (domain.MarkDeliveryResult, error) {
	if !req.Outcome.Valid() {
		return domain.MarkDeliveryResult{}, domain.ErrInvalidOutcome
	}
	if req.BottlesCollected.Large < 0 || req.BottlesCollected.Small < 0 {
		return domain.MarkDeliveryResult{}, domain.ErrInvalidBottles
	}

	table, err := s.pricing.Current()
	if err != nil {
		return domain.MarkDeliveryResult{}, err
	}
	interval := s.billing.Get().DepositInterval

	var (
		result domain.MarkDeliveryResult
		forced bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		delivery, err := s.repo.FindByIDForUpdate(ctx, tx, req.DeliveryID)
		if err != nil {
			return err
		}
		if delivery == nil {
			return domain.ErrDeliveryNotFound
		}
		if delivery.Status != domain.StatusScheduled {
			return fmt.Errorf("%w: %s", domain.ErrDeliveryNotScheduled, delivery.Status)
		}

		customer, err := s.customers.FindByID(ctx, tx, delivery.CustomerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return customerdomain.ErrCustomerNotFound
		}
		wallet, err := s.ledger.WalletByCustomer(ctx, tx, delivery.CustomerID)
		if err != nil {
			return err
		}

		result = domain.MarkDeliveryResult{
			DeliveryID:     delivery.ID,
			Outcome:        req.Outcome,
			PreviousStatus: customer.Status,
			NewBalance:     wallet.Balance,
		}

		if wallet.Balance < 0 {
			forced = req.Outcome == domain.OutcomeDelivered
			result.Outcome = domain.OutcomeNotDelivered
			result.Warning = fmt.Sprintf("wallet balance %d is negative; delivery not made", wallet.Balance)
			delivery.Notes = appendNote(delivery.Notes, result.Warning)
		}

		now := s.now()
		if result.Outcome == domain.OutcomeDelivered {
			if err := s.settleDelivered(ctx, tx, table, interval, wallet, delivery, req.BottlesCollected, &result); err != nil {
				return err
			}
			delivery.DeliveredAt = &now
		}

		delivery.Status = result.Outcome.Status()
		delivery.UpdatedAt = now
		settled, err := s.repo.Settle(ctx, tx, delivery)
		if err != nil {
			return err
		}
		if !settled {
			return domain.ErrDeliveryNotScheduled
		}

		newStatus, err := s.status.UpdateStatus(ctx, tx, delivery.CustomerID)
		if err != nil {
			return err
		}
		result.Settled = true
		result.NewStatus = newStatus
		result.BecameInactive = newStatus == customerdomain.StatusInactive &&
			result.PreviousStatus != customerdomain.StatusInactive
		if result.BecameInactive && result.Warning == "" {
			result.Warning = fmt.Sprintf("wallet balance %d is negative; customer is now inactive", result.NewBalance)
		}
		return nil
	})
	if err != nil {
		err = billingerror.Aborted(err)
		if !billingerror.IsBusiness(err) {
			s.log.Error("mark delivery failed",
				zap.String("delivery_id", req.DeliveryID.String()),
				zap.Error(err),
			)
		}
		return domain.MarkDeliveryResult{}, err
	}

	s.obsMetrics.RecordDeliverySettled(ctx, string(result.Outcome), forced)
	s.log.Info("delivery settled",
		zap.String("delivery_id", req.DeliveryID.String()),
		zap.String("requested", string(req.Outcome)),
		zap.String("outcome", string(result.Outcome)),
		zap.Int64("charged", result.Charged),
		zap.Int64("deposit_charged", result.DepositCharged),
		zap.Bool("deposit_skipped", result.DepositSkipped),
		zap.String("status", string(result.NewStatus)),
	)
	return result, nil
}

// settleDelivered charges the milk, moves bottles and runs the deposit
// cadence inside the settlement transaction.
func (s *Service) settleDelivered(
	ctx context.Context,
	tx *gorm.DB,
	table *pricing.Table,
	interval int,
	wallet ledgerdomain.Wallet,
	delivery *domain.Delivery,
	collected domain.BottlesCollected,
	result *domain.MarkDeliveryResult,
) error {
	ref := &ledgerdomain.Reference{Type: referenceDelivery, ID: delivery.ID}

	if delivery.Charge > 0 {
		res, err := s.ledger.ApplyWalletDelta(ctx, tx, ledgerdomain.WalletDeltaRequest{
			WalletID:    wallet.ID,
			Delta:       -delivery.Charge,
			Kind:        ledgerdomain.KindMilkCharge,
			Description: fmt.Sprintf("milk %d on %s", delivery.Quantity, formatDate(delivery)),
			Reference:   ref,
		})
		if err != nil {
			return err
		}
		result.Charged = delivery.Charge
		result.NewBalance = res.NewBalance
	}

	movements := []struct {
		action ledgerdomain.BottleAction
		size   ledgerdomain.BottleSize
		qty    int
	}{
		{ledgerdomain.ActionIssued, ledgerdomain.SizeLarge, delivery.LargeBottles},
		{ledgerdomain.ActionIssued, ledgerdomain.SizeSmall, delivery.SmallBottles},
		{ledgerdomain.ActionReturned, ledgerdomain.SizeLarge, collected.Large},
		{ledgerdomain.ActionReturned, ledgerdomain.SizeSmall, collected.Small},
	}
	deliveryID := delivery.ID
	issuedDate := delivery.DeliveryDate
	for _, m := range movements {
		if m.qty <= 0 {
			continue
		}
		req := ledgerdomain.BottleLedgerRequest{
			CustomerID:  delivery.CustomerID,
			Action:      m.action,
			Size:        m.size,
			Quantity:    m.qty,
			DeliveryID:  &deliveryID,
			Description: fmt.Sprintf("delivery %s", formatDate(delivery)),
		}
		if m.action == ledgerdomain.ActionIssued {
			req.IssuedDate = &issuedDate
		}
		if _, err := s.ledger.AppendBottleLedger(ctx, tx, req); err != nil {
			return err
		}
	}

	return s.applyDepositCadence(ctx, tx, table, interval, wallet, delivery, result)
}

// applyDepositCadence counts the delivery and charges the bottle deposit
// every interval deliveries. A deposit that would take the wallet below
// zero is skipped with the checkpoint left in place, so the next delivery
// retries it.
func (s *Service) applyDepositCadence(
	ctx context.Context,
	tx *gorm.DB,
	table *pricing.Table,
	interval int,
	wallet ledgerdomain.Wallet,
	delivery *domain.Delivery,
	result *domain.MarkDeliveryResult,
) error {
	sub, err := s.subscriptions.FindByCustomerForUpdate(ctx, tx, delivery.CustomerID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	sub.DeliveryCount++
	sub.UpdatedAt = s.now()
	if interval > 0 && sub.DeliveryCount-sub.LastDepositAtDeliveryCount >= interval {
		deposit, err := table.DepositFor(delivery.Quantity)
		if errors.Is(err, pricing.ErrUnsupportedQuantity) {
			deposit, err = delivery.Deposit, nil
		}
		if err != nil {
			return err
		}

		switch {
		case deposit <= 0:
			sub.LastDepositAtDeliveryCount = sub.DeliveryCount
		case result.NewBalance-deposit < 0:
			result.DepositSkipped = true
			s.log.Info("deposit skipped for insufficient balance",
				zap.String("customer_id", delivery.CustomerID.String()),
				zap.Int64("deposit", deposit),
				zap.Int64("balance", result.NewBalance),
				zap.Int("delivery_count", sub.DeliveryCount),
			)
		default:
			res, err := s.ledger.ApplyWalletDelta(ctx, tx, ledgerdomain.WalletDeltaRequest{
				WalletID:    wallet.ID,
				Delta:       -deposit,
				Kind:        ledgerdomain.KindDepositCharge,
				Description: fmt.Sprintf("bottle deposit at delivery %d", sub.DeliveryCount),
				Reference:   &ledgerdomain.Reference{Type: referenceDelivery, ID: delivery.ID},
			})
			if err != nil {
				return err
			}
			result.DepositCharged = deposit
			result.NewBalance = res.NewBalance
			sub.LastDepositAtDeliveryCount = sub.DeliveryCount
		}
	}
	return s.subscriptions.Update(ctx, tx, sub)
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "; " + note
}

func formatDate(delivery *domain.Delivery) string {
	return clock.Format(delivery.DeliveryDate)
}

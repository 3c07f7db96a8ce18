package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Service) AppendBottleLedger(ctx context.Context, tx *gorm.DB, req ledgerdomain.BottleLedgerRequest) (ledgerdomain.BottleLedgerEntry, error) {
	if req.CustomerID == 0 {
		return ledgerdomain.BottleLedgerEntry{}, ledgerdomain.ErrCustomerNotFound
	}
	if req.Size != ledgerdomain.SizeLarge && req.Size != ledgerdomain.SizeSmall {
		return ledgerdomain.BottleLedgerEntry{}, fmt.Errorf("%w: size %q", ledgerdomain.ErrInvalidAction, req.Size)
	}
	switch req.Action {
	case ledgerdomain.ActionIssued, ledgerdomain.ActionReturned, ledgerdomain.ActionPenaltyCharged:
		if req.Quantity <= 0 {
			return ledgerdomain.BottleLedgerEntry{}, ledgerdomain.ErrInvalidQuantity
		}
	case ledgerdomain.ActionAdjustment:
		if req.Quantity == 0 {
			return ledgerdomain.BottleLedgerEntry{}, ledgerdomain.ErrInvalidQuantity
		}
	default:
		return ledgerdomain.BottleLedgerEntry{}, fmt.Errorf("%w: %q", ledgerdomain.ErrInvalidAction, req.Action)
	}

	var entry ledgerdomain.BottleLedgerEntry
	err := s.atomically(ctx, tx, func(tx *gorm.DB) error {
		var customer customerdomain.Customer
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", req.CustomerID).
			Take(&customer).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledgerdomain.ErrCustomerNotFound
		}
		if err != nil {
			return err
		}

		prior, err := latestBottleBalance(tx, req.CustomerID)
		if err != nil {
			return err
		}
		next := applyBottleMovement(prior, req.Action, req.Size, req.Quantity)

		now := s.now()
		entry = ledgerdomain.BottleLedgerEntry{
			ID:                s.genID.Generate(),
			CustomerID:        req.CustomerID,
			Action:            req.Action,
			Size:              req.Size,
			Quantity:          req.Quantity,
			LargeBalanceAfter: next.Large,
			SmallBalanceAfter: next.Small,
			DeliveryID:        req.DeliveryID,
			Description:       req.Description,
			CreatedAt:         now,
		}
		if req.Action == ledgerdomain.ActionIssued {
			entry.IssuedDate = req.IssuedDate
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		if req.Action == ledgerdomain.ActionReturned {
			return s.closeReturnedIssues(tx, req.CustomerID, req.Size, req.Quantity)
		}
		return nil
	})
	if err != nil {
		return ledgerdomain.BottleLedgerEntry{}, err
	}

	s.log.Debug("bottle ledger appended",
		zap.String("customer_id", req.CustomerID.String()),
		zap.String("action", string(req.Action)),
		zap.String("size", string(req.Size)),
		zap.Int("quantity", req.Quantity),
		zap.Int("large_balance_after", entry.LargeBalanceAfter),
		zap.Int("small_balance_after", entry.SmallBalanceAfter),
	)
	return entry, nil
}

// CurrentBottleBalance is the single accessor for a customer's bottle
// balances: the running totals of the latest ledger row.
func (s *Service) CurrentBottleBalance(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (ledgerdomain.BottleBalance, error) {
	return latestBottleBalance(s.conn(ctx, tx), customerID)
}

func latestBottleBalance(db *gorm.DB, customerID snowflake.ID) (ledgerdomain.BottleBalance, error) {
	var latest ledgerdomain.BottleLedgerEntry
	err := db.Where("customer_id = ?", customerID).
		Order("created_at desc, id desc").
		Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledgerdomain.BottleBalance{}, nil
	}
	if err != nil {
		return ledgerdomain.BottleBalance{}, err
	}
	return ledgerdomain.BottleBalance{Large: latest.LargeBalanceAfter, Small: latest.SmallBalanceAfter}, nil
}

// applyBottleMovement moves one size and carries the other forward.
// Decrements floor at zero.
func applyBottleMovement(prior ledgerdomain.BottleBalance, action ledgerdomain.BottleAction, size ledgerdomain.BottleSize, qty int) ledgerdomain.BottleBalance {
	delta := qty
	if action == ledgerdomain.ActionReturned || action == ledgerdomain.ActionPenaltyCharged {
		delta = -qty
	}
	next := prior
	if size == ledgerdomain.SizeSmall {
		next.Small = max(0, prior.Small+delta)
	} else {
		next.Large = max(0, prior.Large+delta)
	}
	return next
}

// closeReturnedIssues consumes a return FIFO across the open ISSUED rows of
// one size. Each row accumulates returned_quantity and is stamped
// returned_at once its whole quantity is back.
func (s *Service) closeReturnedIssues(tx *gorm.DB, customerID snowflake.ID, size ledgerdomain.BottleSize, qty int) error {
	var open []ledgerdomain.BottleLedgerEntry
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ? AND action = ? AND size = ? AND returned_at IS NULL AND penalty_applied_at IS NULL",
			customerID, ledgerdomain.ActionIssued, size).
		Order("issued_date asc, id asc").
		Find(&open).Error
	if err != nil {
		return err
	}

	remaining := qty
	now := s.now()
	for _, row := range open {
		if remaining == 0 {
			break
		}
		take := min(remaining, row.Outstanding())
		if take == 0 {
			continue
		}
		remaining -= take

		updates := map[string]any{"returned_quantity": row.ReturnedQuantity + take}
		if row.ReturnedQuantity+take >= row.Quantity {
			updates["returned_at"] = now
		}
		err := tx.Model(&ledgerdomain.BottleLedgerEntry{}).
			Where("id = ?", row.ID).
			Updates(updates).Error
		if err != nil {
			return err
		}
	}
	return nil
}

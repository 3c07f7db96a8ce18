package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/clock"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/milkrun/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

// atomically runs fn inside tx, or inside a new transaction when tx is nil.
// Failures leave no partial state behind and come back as Aborted unless
// they carry a business kind.
func (s *Service) atomically(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	if tx != nil {
		err = fn(tx.WithContext(ctx))
	} else {
		err = s.db.WithContext(ctx).Transaction(fn)
	}
	return billingerror.Aborted(err)
}

func (s *Service) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Service) CreateWallet(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (ledgerdomain.Wallet, error) {
	if customerID == 0 {
		return ledgerdomain.Wallet{}, ledgerdomain.ErrCustomerNotFound
	}

	var wallet ledgerdomain.Wallet
	err := s.atomically(ctx, tx, func(tx *gorm.DB) error {
		now := s.now()
		candidate := ledgerdomain.Wallet{
			ID:         s.genID.Generate(),
			CustomerID: customerID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error; err != nil {
			return err
		}
		return tx.Where("customer_id = ?", customerID).Take(&wallet).Error
	})
	if err != nil {
		return ledgerdomain.Wallet{}, err
	}
	return wallet, nil
}

func (s *Service) WalletByCustomer(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (ledgerdomain.Wallet, error) {
	var wallet ledgerdomain.Wallet
	err := s.conn(ctx, tx).Where("customer_id = ?", customerID).Take(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledgerdomain.Wallet{}, ledgerdomain.ErrWalletNotFound
	}
	if err != nil {
		return ledgerdomain.Wallet{}, err
	}
	return wallet, nil
}

// CurrentBalance is the single accessor for a customer's wallet balance.
func (s *Service) CurrentBalance(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (int64, error) {
	wallet, err := s.WalletByCustomer(ctx, tx, customerID)
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

func (s *Service) ApplyWalletDelta(ctx context.Context, tx *gorm.DB, req ledgerdomain.WalletDeltaRequest) (ledgerdomain.WalletDeltaResult, error) {
	if req.WalletID == 0 {
		return ledgerdomain.WalletDeltaResult{}, ledgerdomain.ErrWalletNotFound
	}
	if !req.Kind.Valid() {
		return ledgerdomain.WalletDeltaResult{}, ledgerdomain.ErrInvalidKind
	}
	if req.Delta == 0 || (req.Kind.Credit() != (req.Delta > 0)) {
		return ledgerdomain.WalletDeltaResult{}, fmt.Errorf("%w: %d for %s", ledgerdomain.ErrInvalidDelta, req.Delta, req.Kind)
	}

	var result ledgerdomain.WalletDeltaResult
	var customerID snowflake.ID
	err := s.atomically(ctx, tx, func(tx *gorm.DB) error {
		var wallet ledgerdomain.Wallet
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", req.WalletID).
			Take(&wallet).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledgerdomain.ErrWalletNotFound
		}
		if err != nil {
			return err
		}
		customerID = wallet.CustomerID

		now := s.now()
		newBalance := wallet.Balance + req.Delta
		updates := map[string]any{
			"balance":    newBalance,
			"updated_at": now,
		}
		switch {
		case newBalance < 0 && wallet.NegativeBalanceSince == nil:
			updates["negative_balance_since"] = now
		case newBalance >= 0 && wallet.NegativeBalanceSince != nil:
			updates["negative_balance_since"] = nil
		}
		if err := tx.Model(&ledgerdomain.Wallet{}).Where("id = ?", wallet.ID).Updates(updates).Error; err != nil {
			return err
		}

		txn := ledgerdomain.WalletTransaction{
			ID:           s.genID.Generate(),
			WalletID:     wallet.ID,
			CustomerID:   wallet.CustomerID,
			Kind:         req.Kind,
			Amount:       req.Delta,
			BalanceAfter: newBalance,
			Description:  req.Description,
			CreatedAt:    now,
		}
		if req.Reference != nil {
			txn.ReferenceType = req.Reference.Type
			refID := req.Reference.ID
			txn.ReferenceID = &refID
		}
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}

		result = ledgerdomain.WalletDeltaResult{NewBalance: newBalance, TransactionID: txn.ID}
		return nil
	})
	if err != nil {
		s.log.Warn("wallet delta failed",
			zap.String("wallet_id", req.WalletID.String()),
			zap.String("kind", string(req.Kind)),
			zap.Int64("delta", req.Delta),
			zap.Error(err),
		)
		return ledgerdomain.WalletDeltaResult{}, err
	}

	s.obsMetrics.RecordWalletTransaction(ctx, string(req.Kind), req.Delta)
	s.log.Debug("wallet delta applied",
		zap.String("customer_id", customerID.String()),
		zap.String("kind", string(req.Kind)),
		zap.Int64("delta", req.Delta),
		zap.Int64("balance_after", result.NewBalance),
	)
	return result, nil
}

func (s *Service) ListTransactions(ctx context.Context, customerID snowflake.ID, limit int) ([]ledgerdomain.WalletTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var txns []ledgerdomain.WalletTransaction
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

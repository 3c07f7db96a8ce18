package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Reference links a wallet transaction to the record that caused it.
type Reference struct {
	Type string
	ID   snowflake.ID
}

type WalletDeltaRequest struct {
	WalletID    snowflake.ID
	Delta       int64
	Kind        TransactionKind
	Description string
	Reference   *Reference
}

type WalletDeltaResult struct {
	NewBalance    int64        `json:"new_balance"`
	TransactionID snowflake.ID `json:"transaction_id"`
}

type BottleLedgerRequest struct {
	CustomerID  snowflake.ID
	Action      BottleAction
	Size        BottleSize
	Quantity    int
	Description string
	DeliveryID  *snowflake.ID
	IssuedDate  *datatypes.Date
}

// Service is the only writer of wallets and bottle ledgers. Methods taking
// a tx join it when non-nil and open their own transaction otherwise.
type Service interface {
	CreateWallet(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (Wallet, error)
	WalletByCustomer(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (Wallet, error)
	CurrentBalance(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (int64, error)
	ApplyWalletDelta(ctx context.Context, tx *gorm.DB, req WalletDeltaRequest) (WalletDeltaResult, error)
	ListTransactions(ctx context.Context, customerID snowflake.ID, limit int) ([]WalletTransaction, error)

	AppendBottleLedger(ctx context.Context, tx *gorm.DB, req BottleLedgerRequest) (BottleLedgerEntry, error)
	CurrentBottleBalance(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (BottleBalance, error)
}

var (
	ErrWalletNotFound   = billingerror.New(billingerror.ErrNotFound, "wallet_not_found")
	ErrCustomerNotFound = billingerror.New(billingerror.ErrNotFound, "customer_not_found")
	ErrInvalidDelta     = billingerror.New(billingerror.ErrInvalidRequest, "invalid_delta")
	ErrInvalidKind      = billingerror.New(billingerror.ErrInvalidRequest, "invalid_transaction_kind")
	ErrInvalidQuantity  = billingerror.New(billingerror.ErrInvalidRequest, "invalid_bottle_quantity")
	ErrInvalidAction    = billingerror.New(billingerror.ErrInvalidRequest, "invalid_bottle_action")
)

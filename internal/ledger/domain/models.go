package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TransactionKind classifies wallet movements.
type TransactionKind string

const (
	KindTopUp         TransactionKind = "TOPUP"
	KindMilkCharge    TransactionKind = "MILK_CHARGE"
	KindDepositCharge TransactionKind = "DEPOSIT_CHARGE"
	KindPenaltyCharge TransactionKind = "PENALTY_CHARGE"
	KindAdminCredit   TransactionKind = "ADMIN_CREDIT"
	KindAdminDebit    TransactionKind = "ADMIN_DEBIT"
	KindRefund        TransactionKind = "REFUND"
)

// Credit reports whether the kind must carry a positive delta.
func (k TransactionKind) Credit() bool {
	switch k {
	case KindTopUp, KindAdminCredit, KindRefund:
		return true
	}
	return false
}

func (k TransactionKind) Valid() bool {
	switch k {
	case KindTopUp, KindMilkCharge, KindDepositCharge, KindPenaltyCharge,
		KindAdminCredit, KindAdminDebit, KindRefund:
		return true
	}
	return false
}

// Wallet is the prepaid balance of one customer. Balance always equals the
// BalanceAfter of the wallet's most recent transaction.
type Wallet struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID           snowflake.ID `gorm:"not null;uniqueIndex" json:"customer_id"`
	Balance              int64        `gorm:"not null;default:0" json:"balance"`
	NegativeBalanceSince *time.Time   `json:"negative_balance_since,omitempty"`
	CreatedAt            time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time    `gorm:"not null" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

type WalletTransaction struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	WalletID      snowflake.ID    `gorm:"not null;index:ix_wallet_transactions_wallet_created,priority:1" json:"wallet_id"`
	CustomerID    snowflake.ID    `gorm:"not null;index" json:"customer_id"`
	Kind          TransactionKind `gorm:"size:32;not null" json:"kind"`
	Amount        int64           `gorm:"not null" json:"amount"`
	BalanceAfter  int64           `gorm:"not null" json:"balance_after"`
	Description   string          `gorm:"type:text" json:"description,omitempty"`
	ReferenceType string          `gorm:"size:64" json:"reference_type,omitempty"`
	ReferenceID   *snowflake.ID   `gorm:"index" json:"reference_id,omitempty"`
	CreatedAt     time.Time       `gorm:"not null;index:ix_wallet_transactions_wallet_created,priority:2" json:"created_at"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

// BottleAction is the kind of a bottle ledger movement.
type BottleAction string

const (
	ActionIssued         BottleAction = "ISSUED"
	ActionReturned       BottleAction = "RETURNED"
	ActionPenaltyCharged BottleAction = "PENALTY_CHARGED"
	ActionAdjustment     BottleAction = "ADJUSTMENT"
)

// BottleSize distinguishes the two returnable bottle sizes.
type BottleSize string

const (
	SizeLarge BottleSize = "LARGE"
	SizeSmall BottleSize = "SMALL"
)

// BottleLedgerEntry is one append-only bottle movement. Every row carries
// both running balances; the latest row holds the current ones.
type BottleLedgerEntry struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	CustomerID        snowflake.ID    `gorm:"not null;index:ix_bottle_ledger_customer_created,priority:1" json:"customer_id"`
	Action            BottleAction    `gorm:"size:32;not null" json:"action"`
	Size              BottleSize      `gorm:"size:16;not null" json:"size"`
	Quantity          int             `gorm:"not null" json:"quantity"`
	LargeBalanceAfter int             `gorm:"not null" json:"large_balance_after"`
	SmallBalanceAfter int             `gorm:"not null" json:"small_balance_after"`
	IssuedDate        *datatypes.Date `gorm:"index" json:"issued_date,omitempty"`
	PenaltyAppliedAt  *time.Time      `json:"penalty_applied_at,omitempty"`
	ReturnedQuantity  int             `gorm:"not null;default:0" json:"returned_quantity"`
	ReturnedAt        *time.Time      `json:"returned_at,omitempty"`
	DeliveryID        *snowflake.ID   `gorm:"index" json:"delivery_id,omitempty"`
	Description       string          `gorm:"type:text" json:"description,omitempty"`
	CreatedAt         time.Time       `gorm:"not null;index:ix_bottle_ledger_customer_created,priority:2" json:"created_at"`
}

func (BottleLedgerEntry) TableName() string { return "bottle_ledger_entries" }

// Outstanding is the part of an ISSUED row not yet returned.
func (e BottleLedgerEntry) Outstanding() int {
	return max(0, e.Quantity-e.ReturnedQuantity)
}

// BottleBalance is the number of bottles a customer currently holds.
type BottleBalance struct {
	Large int `json:"large"`
	Small int `json:"small"`
}

// Of returns the balance for one size.
func (b BottleBalance) Of(size BottleSize) int {
	if size == SizeSmall {
		return b.Small
	}
	return b.Large
}

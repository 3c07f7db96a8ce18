package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status of a monthly payment. Automatic transitions only move PENDING to
// PAID or PENDING to OVERDUE.
type Status string

const (
	StatusPaid    Status = "PAID"
	StatusPending Status = "PENDING"
	StatusOverdue Status = "OVERDUE"
)

type MonthlyPayment struct {
	ID         snowflake.ID   `gorm:"primaryKey" json:"id"`
	CustomerID snowflake.ID   `gorm:"not null;uniqueIndex:ux_monthly_payments_customer_period" json:"customer_id"`
	Year       int            `gorm:"not null;uniqueIndex:ux_monthly_payments_customer_period" json:"year"`
	Month      int            `gorm:"not null;uniqueIndex:ux_monthly_payments_customer_period" json:"month"`
	TotalCost  int64          `gorm:"not null" json:"total_cost"`
	AmountDue  int64          `gorm:"not null" json:"amount_due"`
	AmountPaid int64          `gorm:"not null;default:0" json:"amount_paid"`
	Status     Status         `gorm:"size:32;not null;index" json:"status"`
	DueDate    datatypes.Date `gorm:"not null" json:"due_date"`
	PaidAt     *time.Time     `json:"paid_at,omitempty"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
}

func (MonthlyPayment) TableName() string { return "monthly_payments" }

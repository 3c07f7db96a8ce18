package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
)

// CycleResult aggregates one run of a monthly cycle job.
type CycleResult struct {
	Created       int            `json:"created"`
	AutoPaid      int            `json:"auto_paid"`
	Skipped       int            `json:"skipped"`
	MarkedOverdue int            `json:"marked_overdue"`
	Failed        []CustomerFail `json:"failed,omitempty"`
}

type CustomerFail struct {
	CustomerID snowflake.ID `json:"customer_id"`
	Error      string       `json:"error"`
}

type MarkPaidRequest struct {
	PaymentID snowflake.ID
	Amount    int64
}

type Service interface {
	CreateMonthlyPaymentRecords(ctx context.Context, year int, month time.Month) (CycleResult, error)
	EnforceOverduePayments(ctx context.Context, year int, month time.Month) (CycleResult, error)
	MarkPaid(ctx context.Context, req MarkPaidRequest) (MonthlyPayment, error)
	Get(ctx context.Context, customerID snowflake.ID, year int, month time.Month) (MonthlyPayment, error)
}

var (
	ErrPaymentNotFound = billingerror.New(billingerror.ErrNotFound, "monthly_payment_not_found")
	ErrPaymentSettled  = billingerror.New(billingerror.ErrInvalidState, "monthly_payment_already_settled")
	ErrInvalidAmount   = billingerror.New(billingerror.ErrInvalidRequest, "invalid_amount")
	ErrInvalidPeriod   = billingerror.New(billingerror.ErrInvalidRequest, "invalid_period")
)

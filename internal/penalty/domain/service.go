package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
)

// CustomerPenaltyResult reports one customer's penalty outcome. Sweep
// failures are carried in Error instead of aborting the sweep.
type CustomerPenaltyResult struct {
	CustomerID     snowflake.ID          `json:"customer_id"`
	LargePenalized int                   `json:"large_penalized"`
	SmallPenalized int                   `json:"small_penalized"`
	TotalPenalty   int64                 `json:"total_penalty"`
	NewBalance     int64                 `json:"new_balance"`
	NewStatus      customerdomain.Status `json:"new_status,omitempty"`
	Success        bool                  `json:"success"`
	Error          string                `json:"error,omitempty"`
}

type ImposePenaltyRequest struct {
	CustomerID snowflake.ID
	FineAmount int64
	LargeCount int
	SmallCount int
}

type Service interface {
	CheckAndChargePenalties(ctx context.Context) ([]CustomerPenaltyResult, error)
	ImposePenalty(ctx context.Context, req ImposePenaltyRequest) (CustomerPenaltyResult, error)
}

var (
	ErrNoOverdueBottles  = billingerror.New(billingerror.ErrInvalidRequest, "no_overdue_bottles")
	ErrNothingToPenalize = billingerror.New(billingerror.ErrInvalidRequest, "nothing_to_penalize")
	ErrInvalidFine       = billingerror.New(billingerror.ErrInvalidRequest, "invalid_fine")
	ErrInvalidCustomer   = billingerror.New(billingerror.ErrInvalidRequest, "invalid_customer")
)

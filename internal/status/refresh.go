package status

import (
	"context"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	"go.uber.org/zap"
)

type RefreshResult struct {
	Checked int                           `json:"checked"`
	Changed int                           `json:"changed"`
	Failed  []RefreshFailure              `json:"failed,omitempty"`
	Counts  map[customerdomain.Status]int `json:"counts"`
}

type RefreshFailure struct {
	CustomerID snowflake.ID `json:"customer_id"`
	Error      string       `json:"error"`
}

// RefreshAll recomputes every customer's status so statuses that depend on
// the calendar, like the grace cutoff or an expired pause, converge without
// a wallet movement. One customer's failure does not stop the sweep.
func (e *Engine) RefreshAll(ctx context.Context) (RefreshResult, error) {
	customers, err := e.customers.List(ctx, e.db, customerdomain.ListCustomerFilter{})
	if err != nil {
		return RefreshResult{}, err
	}

	result := RefreshResult{Counts: map[customerdomain.Status]int{}}
	for _, customer := range customers {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		next, err := e.UpdateStatus(ctx, nil, customer.ID)
		if err != nil {
			e.log.Warn("status refresh failed",
				zap.String("customer_id", customer.ID.String()),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, RefreshFailure{CustomerID: customer.ID, Error: err.Error()})
			continue
		}
		if next != customer.Status {
			result.Changed++
		}
		result.Counts[next]++
	}
	return result, nil
}

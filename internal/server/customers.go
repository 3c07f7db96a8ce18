package server

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	penaltydomain "github.com/smallbiznis/milkrun/internal/penalty/domain"
)

type customerStatusResponse struct {
	CustomerID         snowflake.ID               `json:"customer_id"`
	Status             customerdomain.Status      `json:"status"`
	StoredStatus       customerdomain.Status      `json:"stored_status"`
	CanReceiveDelivery bool                       `json:"can_receive_delivery"`
	Balance            int64                      `json:"balance"`
	Bottles            ledgerdomain.BottleBalance `json:"bottles"`
}

type imposePenaltyRequest struct {
	FineAmount int64 `json:"fine_amount"`
	LargeCount int   `json:"large_count"`
	SmallCount int   `json:"small_count"`
}

// GetCustomerStatus reports the status computed from current state next to
// the stored one, which may lag until the next recomputation.
func (s *Server) GetCustomerStatus(c *gin.Context) {
	customerID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	customer, err := s.customerSvc.Get(ctx, customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	computed, err := s.statusSvc.CalculateStatus(ctx, customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	eligible, err := s.statusSvc.CanReceiveDelivery(ctx, nil, customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := customerStatusResponse{
		CustomerID:         customerID,
		Status:             computed,
		StoredStatus:       customer.Status,
		CanReceiveDelivery: eligible,
	}
	balance, err := s.ledgerSvc.CurrentBalance(ctx, nil, customerID)
	switch {
	case errors.Is(err, ledgerdomain.ErrWalletNotFound):
	case err != nil:
		AbortWithError(c, err)
		return
	default:
		resp.Balance = balance
	}
	bottles, err := s.ledgerSvc.CurrentBottleBalance(ctx, nil, customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp.Bottles = bottles

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ImposePenalty charges an operator-issued fine against unreturned
// bottles.
func (s *Server) ImposePenalty(c *gin.Context) {
	customerID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req imposePenaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.penaltySvc.ImposePenalty(c.Request.Context(), penaltydomain.ImposePenaltyRequest{
		CustomerID: customerID,
		FineAmount: req.FineAmount,
		LargeCount: req.LargeCount,
		SmallCount: req.SmallCount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

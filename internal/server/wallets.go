package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/milkrun/internal/payment/domain"
)

type adjustWalletRequest struct {
	Delta       int64  `json:"delta"`
	Description string `json:"description"`
}

type refundWalletRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type createTopUpOrderRequest struct {
	Amount int64 `json:"amount"`
}

type listTransactionsQuery struct {
	Limit int `form:"limit"`
}

func (s *Server) AdjustWallet(c *gin.Context) {
	customerID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req adjustWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Delta == 0 {
		AbortWithError(c, newValidationError("delta", "invalid_delta", "delta must be non-zero"))
		return
	}

	result, err := s.paymentSvc.AdminAdjust(c.Request.Context(), paymentdomain.AdminAdjustRequest{
		CustomerID:  customerID,
		Delta:       req.Delta,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RefundWallet(c *gin.Context) {
	customerID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req refundWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.paymentSvc.Refund(c.Request.Context(), paymentdomain.RefundRequest{
		CustomerID:  customerID,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// CreateTopUpOrder opens a gateway order the customer pays against. The
// wallet moves only when the gateway's captured webhook arrives.
func (s *Server) CreateTopUpOrder(c *gin.Context) {
	customerID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createTopUpOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	order, err := s.paymentSvc.CreateTopUpOrder(c.Request.Context(), paymentdomain.CreateOrderRequest{
		CustomerID: customerID,
		Amount:     req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": order})
}

func (s *Server) ListWalletTransactions(c *gin.Context) {
	customerID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query listTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if query.Limit <= 0 || query.Limit > 200 {
		query.Limit = 50
	}

	txs, err := s.ledgerSvc.ListTransactions(c.Request.Context(), customerID, query.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txs})
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	monthlydomain "github.com/smallbiznis/milkrun/internal/monthlypayment/domain"
)

type markPaidRequest struct {
	Amount int64 `json:"amount"`
}

// MarkMonthlyPaymentPaid records an offline payment against a monthly
// record. Amount defaults to the outstanding amount.
func (s *Server) MarkMonthlyPaymentPaid(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req markPaidRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	payment, err := s.monthlySvc.MarkPaid(c.Request.Context(), monthlydomain.MarkPaidRequest{
		PaymentID: id,
		Amount:    req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

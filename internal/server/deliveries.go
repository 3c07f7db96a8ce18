package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/milkrun/internal/clock"
	deliverydomain "github.com/smallbiznis/milkrun/internal/delivery/domain"
)

type ensureDeliveriesRequest struct {
	DayStart string `json:"day_start"`
	DayEnd   string `json:"day_end"`
}

type markDeliveryRequest struct {
	Outcome          string                          `json:"outcome"`
	BottlesCollected deliverydomain.BottlesCollected `json:"bottles_collected"`
}

type listDeliveriesQuery struct {
	Date string `form:"date"`
}

// EnsureDeliveries creates the missing delivery rows for one delivery
// person. The window defaults to tomorrow.
func (s *Server) EnsureDeliveries(c *gin.Context) {
	deliveryPersonID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req ensureDeliveriesRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	tomorrow := clock.AddDays(s.calendar.Today(), 1)
	dayStart, err := parseCivilDate("day_start", req.DayStart, tomorrow)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	dayEnd, err := parseCivilDate("day_end", req.DayEnd, dayStart)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.deliverySvc.EnsureDeliveriesForWindow(c.Request.Context(), deliverydomain.EnsureWindowRequest{
		DeliveryPersonID: deliveryPersonID,
		DayStart:         dayStart,
		DayEnd:           dayEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListDeliveries(c *gin.Context) {
	deliveryPersonID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query listDeliveriesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	date, err := parseCivilDate("date", query.Date, s.calendar.Today())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	deliveries, err := s.deliverySvc.List(c.Request.Context(), deliverydomain.ListDeliveriesRequest{
		DeliveryPersonID: deliveryPersonID,
		Date:             date,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": deliveries})
}

func (s *Server) GetDelivery(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	delivery, err := s.deliverySvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": delivery})
}

// MarkDelivery settles a scheduled delivery. A forced NOT_DELIVERED comes
// back as 200 with the warning set.
func (s *Server) MarkDelivery(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req markDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.deliverySvc.MarkDelivery(c.Request.Context(), deliverydomain.MarkDeliveryRequest{
		DeliveryID:       id,
		Outcome:          deliverydomain.Outcome(strings.ToUpper(strings.TrimSpace(req.Outcome))),
		BottlesCollected: req.BottlesCollected,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

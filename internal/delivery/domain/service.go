package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	"gorm.io/datatypes"
)

type BottlesCollected struct {
	Large int `json:"large"`
	Small int `json:"small"`
}

type MarkDeliveryRequest struct {
	DeliveryID       snowflake.ID
	Outcome          Outcome
	BottlesCollected BottlesCollected
}

// MarkDeliveryResult reports a settlement. Outcome may differ from the
// requested one when the balance pre-check forced NOT_DELIVERED.
type MarkDeliveryResult struct {
	DeliveryID     snowflake.ID          `json:"delivery_id"`
	Settled        bool                  `json:"settled"`
	Outcome        Outcome               `json:"outcome"`
	PreviousStatus customerdomain.Status `json:"previous_status"`
	NewStatus      customerdomain.Status `json:"new_status"`
	Warning        string                `json:"warning,omitempty"`
	BecameInactive bool                  `json:"became_inactive"`
	Charged        int64                 `json:"charged"`
	DepositCharged int64                 `json:"deposit_charged"`
	DepositSkipped bool                  `json:"deposit_skipped"`
	NewBalance     int64                 `json:"new_balance"`
}

type EnsureWindowRequest struct {
	DeliveryPersonID snowflake.ID
	DayStart         datatypes.Date
	DayEnd           datatypes.Date
}

type EnsureResult struct {
	Created    int            `json:"created"`
	Skipped    int            `json:"skipped"`
	Ineligible int            `json:"ineligible"`
	Failed     []CustomerFail `json:"failed,omitempty"`
}

type CustomerFail struct {
	CustomerID snowflake.ID   `json:"customer_id"`
	Date       datatypes.Date `json:"date"`
	Error      string         `json:"error"`
}

type ListDeliveriesRequest struct {
	DeliveryPersonID snowflake.ID
	Date             datatypes.Date
}

type Service interface {
	EnsureDeliveriesForWindow(ctx context.Context, req EnsureWindowRequest) (EnsureResult, error)
	MarkDelivery(ctx context.Context, req MarkDeliveryRequest) (MarkDeliveryResult, error)
	List(ctx context.Context, req ListDeliveriesRequest) ([]Delivery, error)
	Get(ctx context.Context, id snowflake.ID) (Delivery, error)
}

var (
	ErrDeliveryNotFound      = billingerror.New(billingerror.ErrNotFound, "delivery_not_found")
	ErrDeliveryNotScheduled  = billingerror.New(billingerror.ErrInvalidState, "delivery_not_scheduled")
	ErrInvalidOutcome        = billingerror.New(billingerror.ErrInvalidRequest, "invalid_outcome")
	ErrInvalidWindow         = billingerror.New(billingerror.ErrInvalidRequest, "invalid_window")
	ErrInvalidDeliveryPerson = billingerror.New(billingerror.ErrInvalidRequest, "invalid_delivery_person")
	ErrInvalidBottles        = billingerror.New(billingerror.ErrInvalidRequest, "invalid_bottles_collected")
)

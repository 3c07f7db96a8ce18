package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	"gorm.io/datatypes"
)

type SubscribeRequest struct {
	CustomerID    snowflake.ID
	DailyQuantity int
}

type ChangeQuantityRequest struct {
	CustomerID    snowflake.ID
	DailyQuantity int
}

type PauseRequest struct {
	CustomerID snowflake.ID
	Date       datatypes.Date
	Reason     string
}

type ModificationRequest struct {
	CustomerID snowflake.ID
	Date       datatypes.Date
	Quantity   int
	Notes      string
}

type Service interface {
	Subscribe(context.Context, SubscribeRequest) (Subscription, error)
	ChangeQuantity(context.Context, ChangeQuantityRequest) (Subscription, error)
	Hold(context.Context, snowflake.ID) (Subscription, error)
	Resume(context.Context, snowflake.ID) (Subscription, error)
	Cancel(context.Context, snowflake.ID) (Subscription, error)
	Get(context.Context, snowflake.ID) (Subscription, error)
	AddPause(context.Context, PauseRequest) (Pause, error)
	RemovePause(context.Context, PauseRequest) error
	UpsertModification(context.Context, ModificationRequest) (DeliveryModification, error)
}

var (
	ErrSubscriptionNotFound = billingerror.New(billingerror.ErrNotFound, "subscription_not_found")
	ErrPauseNotFound        = billingerror.New(billingerror.ErrNotFound, "pause_not_found")
	ErrAlreadySubscribed    = billingerror.New(billingerror.ErrInvalidState, "already_subscribed")
	ErrSubscriptionCanceled = billingerror.New(billingerror.ErrInvalidState, "subscription_canceled")
	ErrSubscriptionNotHeld  = billingerror.New(billingerror.ErrInvalidState, "subscription_not_held")
	ErrPauseInPast          = billingerror.New(billingerror.ErrInvalidRequest, "pause_in_past")
	ErrModificationInPast   = billingerror.New(billingerror.ErrInvalidRequest, "modification_in_past")
	ErrInvalidCustomer      = billingerror.New(billingerror.ErrInvalidRequest, "invalid_customer")
)

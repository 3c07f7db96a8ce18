package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
)

type RegisterCustomerRequest struct {
	Name    string
	Phone   string
	Address string
}

type AssignDeliveryPersonRequest struct {
	CustomerID       snowflake.ID
	DeliveryPersonID snowflake.ID
}

type ListCustomerRequest struct {
	Status           Status
	DeliveryPersonID snowflake.ID
	Limit            int
}

type ListCustomerFilter struct {
	Status           Status
	DeliveryPersonID snowflake.ID
	Limit            int
}

type Service interface {
	Register(context.Context, RegisterCustomerRequest) (Customer, error)
	AssignDeliveryPerson(context.Context, AssignDeliveryPersonRequest) (Customer, error)
	Get(context.Context, snowflake.ID) (Customer, error)
	List(context.Context, ListCustomerRequest) ([]Customer, error)
}

var (
	ErrCustomerNotFound      = billingerror.New(billingerror.ErrNotFound, "customer_not_found")
	ErrInvalidName           = billingerror.New(billingerror.ErrInvalidRequest, "invalid_name")
	ErrInvalidPhone          = billingerror.New(billingerror.ErrInvalidRequest, "invalid_phone")
	ErrInvalidDeliveryPerson = billingerror.New(billingerror.ErrInvalidRequest, "invalid_delivery_person")
	ErrInvalidStatus         = billingerror.New(billingerror.ErrInvalidRequest, "invalid_status")
)

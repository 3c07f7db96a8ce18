package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	List(ctx context.Context, db *gorm.DB, filter ListCustomerFilter) ([]*Customer, error)
	ListByDeliveryPerson(ctx context.Context, db *gorm.DB, deliveryPersonID snowflake.ID) ([]*Customer, error)
	ListDeliveryPersonIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
	UpdateDeliveryPerson(ctx context.Context, db *gorm.DB, id snowflake.ID, deliveryPersonID *snowflake.ID) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status) error
}

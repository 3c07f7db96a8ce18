package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*Subscription, error)
	FindByCustomerForUpdate(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*Subscription, error)
	Update(ctx context.Context, db *gorm.DB, sub *Subscription) error
	ListBillable(ctx context.Context, db *gorm.DB) ([]*Subscription, error)

	InsertPause(ctx context.Context, db *gorm.DB, pause *Pause) (bool, error)
	DeletePause(ctx context.Context, db *gorm.DB, customerID snowflake.ID, date datatypes.Date) (bool, error)
	HasPauseOnOrAfter(ctx context.Context, db *gorm.DB, customerID snowflake.ID, date datatypes.Date) (bool, error)
	HasPauseOn(ctx context.Context, db *gorm.DB, customerID snowflake.ID, date datatypes.Date) (bool, error)

	FindModification(ctx context.Context, db *gorm.DB, customerID snowflake.ID, date datatypes.Date) (*DeliveryModification, error)
	UpsertModification(ctx context.Context, db *gorm.DB, mod *DeliveryModification) error
}

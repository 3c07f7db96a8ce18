package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, delivery *Delivery) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Delivery, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Delivery, error)
	// Settle moves a SCHEDULED row to status. It reports false when another
	// caller already settled the row.
	Settle(ctx context.Context, db *gorm.DB, delivery *Delivery) (bool, error)
	List(ctx context.Context, db *gorm.DB, deliveryPersonID snowflake.ID, date datatypes.Date) ([]Delivery, error)
}

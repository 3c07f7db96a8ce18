package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, payment *MonthlyPayment) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*MonthlyPayment, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*MonthlyPayment, error)
	FindByPeriod(ctx context.Context, db *gorm.DB, customerID snowflake.ID, year int, month time.Month) (*MonthlyPayment, error)
	Update(ctx context.Context, db *gorm.DB, payment *MonthlyPayment) error
	ListPendingCustomers(ctx context.Context, db *gorm.DB, year int, month time.Month) ([]snowflake.ID, error)
	MarkOverdue(ctx context.Context, db *gorm.DB, year int, month time.Month, at time.Time) (int64, error)
}

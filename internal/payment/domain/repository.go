package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEventForUpdate(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionID *snowflake.ID, processedAt time.Time) error

	InsertOrder(ctx context.Context, db *gorm.DB, order *TopUpOrder) error
	FindOrderByProviderID(ctx context.Context, db *gorm.DB, providerOrderID string) (*TopUpOrder, error)
	UpdateOrderStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error
}

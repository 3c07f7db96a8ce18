package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is one received gateway event. (provider, provider_event_id)
// is unique, so a replayed webhook finds the existing row.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	CustomerID      snowflake.ID   `json:"customer_id" gorm:"not null;index"`
	Amount          int64          `json:"amount" gorm:"not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	TransactionID   *snowflake.ID  `json:"transaction_id,omitempty"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// TopUpOrder is a gateway order opened for a wallet top-up.
type TopUpOrder struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	CustomerID      snowflake.ID `json:"customer_id" gorm:"not null;index"`
	Provider        string       `json:"provider" gorm:"type:text;not null"`
	ProviderOrderID string       `json:"provider_order_id" gorm:"type:text;not null;uniqueIndex"`
	Receipt         string       `json:"receipt" gorm:"type:text;not null"`
	Amount          int64        `json:"amount" gorm:"not null"`
	Currency        string       `json:"currency" gorm:"type:text;not null"`
	Status          string       `json:"status" gorm:"type:text;not null"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
}

func (TopUpOrder) TableName() string { return "topup_orders" }

const (
	OrderStatusCreated = "created"
	OrderStatusPaid    = "paid"
	OrderStatusFailed  = "failed"
)

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefunded         = "refunded"
)

// PaymentEvent is the canonical payment event parsed by gateways.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderPaymentID string
	ProviderOrderID   string
	Type              string
	CustomerID        snowflake.ID
	Amount            int64
	Currency          string
	OccurredAt        time.Time
	RawPayload        []byte
}

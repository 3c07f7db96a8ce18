// Package domain contains persistence models for milk subscriptions, pauses
// and same-day delivery modifications.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPaused   SubscriptionStatus = "PAUSED"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// Subscription is the customer's standing daily order. DailyPrice is a
// cache of the price table lookup for DailyQuantity.
type Subscription struct {
	ID                         snowflake.ID       `gorm:"primaryKey" json:"id"`
	CustomerID                 snowflake.ID       `gorm:"not null;uniqueIndex" json:"customer_id"`
	DailyQuantity              int                `gorm:"not null" json:"daily_quantity"`
	DailyPrice                 int64              `gorm:"not null" json:"daily_price"`
	LargeBottles               int                `gorm:"not null;default:0" json:"large_bottles"`
	SmallBottles               int                `gorm:"not null;default:0" json:"small_bottles"`
	DeliveryCount              int                `gorm:"not null;default:0" json:"delivery_count"`
	LastDepositAtDeliveryCount int                `gorm:"not null;default:0" json:"last_deposit_at_delivery_count"`
	Status                     SubscriptionStatus `gorm:"size:32;not null" json:"status"`
	CreatedAt                  time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt                  time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Billable reports whether the subscription takes part in monthly billing.
func (s Subscription) Billable() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusPaused
}

// Pause suppresses delivery for one civil day.
type Pause struct {
	ID         snowflake.ID   `gorm:"primaryKey" json:"id"`
	CustomerID snowflake.ID   `gorm:"not null;uniqueIndex:ux_pauses_customer_date" json:"customer_id"`
	PauseDate  datatypes.Date `gorm:"not null;uniqueIndex:ux_pauses_customer_date" json:"pause_date"`
	Reason     string         `gorm:"size:255" json:"reason,omitempty"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
}

func (Pause) TableName() string { return "pauses" }

// DeliveryModification overrides the subscription for one civil day.
type DeliveryModification struct {
	ID           snowflake.ID   `gorm:"primaryKey" json:"id"`
	CustomerID   snowflake.ID   `gorm:"not null;uniqueIndex:ux_delivery_modifications_customer_date" json:"customer_id"`
	DeliveryDate datatypes.Date `gorm:"not null;uniqueIndex:ux_delivery_modifications_customer_date" json:"delivery_date"`
	Quantity     int            `gorm:"not null" json:"quantity"`
	LargeBottles int            `gorm:"not null;default:0" json:"large_bottles"`
	SmallBottles int            `gorm:"not null;default:0" json:"small_bottles"`
	Notes        string         `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

func (DeliveryModification) TableName() string { return "delivery_modifications" }

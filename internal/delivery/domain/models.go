package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status of a delivery row. Only SCHEDULED rows can be settled.
type Status string

const (
	StatusScheduled    Status = "SCHEDULED"
	StatusDelivered    Status = "DELIVERED"
	StatusNotDelivered Status = "NOT_DELIVERED"
	StatusPaused       Status = "PAUSED"
	StatusHoliday      Status = "HOLIDAY"
)

// Outcome is what a delivery agent reports when settling a delivery.
type Outcome string

const (
	OutcomeDelivered    Outcome = "DELIVERED"
	OutcomeNotDelivered Outcome = "NOT_DELIVERED"
)

func (o Outcome) Valid() bool {
	return o == OutcomeDelivered || o == OutcomeNotDelivered
}

// Status maps the outcome to the settled delivery status.
func (o Outcome) Status() Status {
	if o == OutcomeDelivered {
		return StatusDelivered
	}
	return StatusNotDelivered
}

type Delivery struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	CustomerID       snowflake.ID   `gorm:"not null;uniqueIndex:ux_deliveries_customer_date" json:"customer_id"`
	DeliveryDate     datatypes.Date `gorm:"not null;uniqueIndex:ux_deliveries_customer_date;index" json:"delivery_date"`
	DeliveryPersonID snowflake.ID   `gorm:"not null;index" json:"delivery_person_id"`
	Quantity         int            `gorm:"not null" json:"quantity"`
	LargeBottles     int            `gorm:"not null;default:0" json:"large_bottles"`
	SmallBottles     int            `gorm:"not null;default:0" json:"small_bottles"`
	Charge           int64          `gorm:"not null" json:"charge"`
	Deposit          int64          `gorm:"not null;default:0" json:"deposit"`
	Notes            string         `gorm:"type:text" json:"notes,omitempty"`
	Status           Status         `gorm:"size:32;not null;index" json:"status"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (Delivery) TableName() string { return "deliveries" }

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the derived, persisted service status of a customer.
type Status string

const (
	StatusVisitor         Status = "VISITOR"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusActive          Status = "ACTIVE"
	StatusPaused          Status = "PAUSED"
	StatusInactive        Status = "INACTIVE"
)

func (s Status) Valid() bool {
	switch s {
	case StatusVisitor, StatusPendingApproval, StatusActive, StatusPaused, StatusInactive:
		return true
	}
	return false
}

type Customer struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	Name             string        `gorm:"size:255;not null" json:"name"`
	Phone            string        `gorm:"size:32;not null;index" json:"phone"`
	Address          string        `gorm:"type:text" json:"address"`
	DeliveryPersonID *snowflake.ID `gorm:"index" json:"delivery_person_id,omitempty"`
	Status           Status        `gorm:"size:32;not null;index" json:"status"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

// HasDeliveryPerson reports whether the customer is assigned to a route.
func (c Customer) HasDeliveryPerson() bool {
	return c.DeliveryPersonID != nil && *c.DeliveryPersonID != 0
}

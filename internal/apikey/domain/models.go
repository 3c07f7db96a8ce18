package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Role names the casbin subject an API key acts as.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleDeliveryAgent Role = "delivery_agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDeliveryAgent:
		return true
	default:
		return false
	}
}

// APIKey stores hashed operator credentials. The raw key is only ever
// returned once, at creation or rotation.
type APIKey struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	KeyID            string       `gorm:"column:key_id;type:text;not null;uniqueIndex:ux_api_keys_key_id"`
	Name             string       `gorm:"type:text;not null"`
	Role             Role         `gorm:"type:text;not null"`
	KeyHash          string       `gorm:"column:key_hash;type:text;not null;uniqueIndex:ux_api_keys_key_hash"`
	IsActive         bool         `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time    `gorm:"not null"`
	UpdatedAt        time.Time    `gorm:"not null"`
	LastUsedAt       *time.Time   `gorm:"column:last_used_at"`
	ExpiresAt        *time.Time   `gorm:"column:expires_at"`
	RotatedFromKeyID *string      `gorm:"column:rotated_from_key_id;type:text"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// Usable reports whether the key can authenticate at now.
func (k *APIKey) Usable(now time.Time) bool {
	if k == nil || !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}

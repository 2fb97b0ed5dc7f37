package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GatewayContact maps a platform user to the gateway contact fund accounts hang off.
type GatewayContact struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	ExternalID string    `gorm:"column:external_id;not null;uniqueIndex"`
	Name       string    `gorm:"column:name;not null"`
	Email      *string   `gorm:"column:email"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (GatewayContact) TableName() string { return "gateway_contacts" }

func (c *GatewayContact) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/enums"
)

// Payment is an inbound transfer into a virtual account, keyed by the gateway payment id.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ExternalID       string              `gorm:"column:external_id;not null;uniqueIndex"`
	VirtualAccountID uuid.UUID           `gorm:"column:virtual_account_id;type:uuid;not null;index"`
	Amount           int64               `gorm:"column:amount;not null"`
	Status           enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	Method           string              `gorm:"column:method;not null;default:''"`
	PayerReference   *string             `gorm:"column:payer_reference"`
	CapturedAt       *time.Time          `gorm:"column:captured_at"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

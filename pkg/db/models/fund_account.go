package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/enums"
)

// FundAccount is a payout destination registered at the gateway.
type FundAccount struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	ContactExternalID string                `gorm:"column:contact_external_id;not null"`
	ExternalID        string                `gorm:"column:external_id;not null;uniqueIndex"`
	AccountType       enums.FundAccountType `gorm:"column:account_type;type:text;not null"`
	MaskedDetails     string                `gorm:"column:masked_details;not null;default:''"`
	IsActive          bool                  `gorm:"column:is_active;not null;default:true"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (f *FundAccount) BeforeCreate(*gorm.DB) error {
	ensureID(&f.ID)
	return nil
}

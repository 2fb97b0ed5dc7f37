package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/enums"
)

// VirtualAccount mirrors the gateway-side escrow account of one contract.
// Balance only moves when an escrow transaction completes.
type VirtualAccount struct {
	ID          uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	ExternalID  string                     `gorm:"column:external_id;not null;uniqueIndex"`
	ContractID  uuid.UUID                  `gorm:"column:contract_id;type:uuid;not null;index"`
	BuyerID     uuid.UUID                  `gorm:"column:buyer_id;type:uuid;not null;index"`
	SellerID    uuid.UUID                  `gorm:"column:seller_id;type:uuid;not null;index"`
	Balance     int64                      `gorm:"column:balance;not null;default:0"`
	Status      enums.VirtualAccountStatus `gorm:"column:status;type:text;not null;default:'active'"`
	Name        string                     `gorm:"column:name;not null"`
	Description string                     `gorm:"column:description;not null;default:''"`
	ClosedAt    *time.Time                 `gorm:"column:closed_at"`
	CreatedAt   time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *VirtualAccount) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}

// IsParty reports whether the user is the buyer or the seller of the account.
func (v *VirtualAccount) IsParty(userID uuid.UUID) bool {
	return v.BuyerID == userID || v.SellerID == userID
}

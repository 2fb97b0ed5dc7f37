package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/enums"
)

// Contract is the sourcing agreement a virtual account escrows funds for.
// Contracts are created upstream; this service only flips the escrow flags.
type Contract struct {
	ID           uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID      uuid.UUID            `gorm:"column:buyer_id;type:uuid;not null;index"`
	SellerID     uuid.UUID            `gorm:"column:seller_id;type:uuid;not null;index"`
	Title        string               `gorm:"column:title;not null;default:''"`
	TotalValue   int64                `gorm:"column:total_value;not null"`
	HasEscrow    bool                 `gorm:"column:has_escrow;not null;default:false"`
	EscrowFunded bool                 `gorm:"column:escrow_funded;not null;default:false"`
	EscrowAmount int64                `gorm:"column:escrow_amount;not null;default:0"`
	Status       enums.ContractStatus `gorm:"column:status;type:text;not null;default:'active'"`
	CreatedAt    time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time            `gorm:"column:updated_at;autoUpdateTime"`

	Milestones []Milestone `gorm:"foreignKey:ContractID"`
}

func (c *Contract) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// IsParty reports whether the user is the buyer or the seller.
func (c *Contract) IsParty(userID uuid.UUID) bool {
	return c.BuyerID == userID || c.SellerID == userID
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/enums"
)

// Milestone is a payable slice of a contract.
type Milestone struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	ContractID       uuid.UUID             `gorm:"column:contract_id;type:uuid;not null;uniqueIndex:idx_milestones_contract_number,priority:1"`
	MilestoneNumber  int                   `gorm:"column:milestone_number;not null;uniqueIndex:idx_milestones_contract_number,priority:2"`
	Title            string                `gorm:"column:title;not null;default:''"`
	Amount           int64                 `gorm:"column:amount;not null"`
	DueDate          *time.Time            `gorm:"column:due_date"`
	Status           enums.MilestoneStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	PaidAt           *time.Time            `gorm:"column:paid_at"`
	RefundedAt       *time.Time            `gorm:"column:refunded_at"`
	ExternalPayoutID *string               `gorm:"column:external_payout_id"`
	DisputeReason    *string               `gorm:"column:dispute_reason"`
	ReleaseReference *string               `gorm:"column:release_reference"`
	ReleaseClaimedAt *time.Time            `gorm:"column:release_claimed_at"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (m *Milestone) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/enums"
)

// Payout purposes sent to the gateway and echoed back in webhooks.
const (
	PayoutPurposeRelease = "payout"
	PayoutPurposeRefund  = "refund"
)

// Payout is an outbound transfer from a virtual account to a fund account.
type Payout struct {
	ID                    uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ExternalID            string             `gorm:"column:external_id;not null;uniqueIndex"`
	Reference             string             `gorm:"column:reference;not null;uniqueIndex"`
	VirtualAccountID      uuid.UUID          `gorm:"column:virtual_account_id;type:uuid;not null;index"`
	FundAccountExternalID string             `gorm:"column:fund_account_external_id;not null"`
	MilestoneID           *uuid.UUID         `gorm:"column:milestone_id;type:uuid;index"`
	Amount                int64              `gorm:"column:amount;not null"`
	Purpose               string             `gorm:"column:purpose;not null"`
	Status                enums.PayoutStatus `gorm:"column:status;type:text;not null"`
	UTR                   *string            `gorm:"column:utr"`
	FailureReason         *string            `gorm:"column:failure_reason"`
	CreatedAt             time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payout) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/enums"
)

// EscrowTransaction is one ledger entry against a virtual account. ExternalID
// is the gateway payment or payout id and is the dedup key for both the
// request path and webhook reconciliation.
type EscrowTransaction struct {
	ID               uuid.UUID                     `gorm:"column:id;type:uuid;primaryKey"`
	ExternalID       string                        `gorm:"column:external_id;not null;uniqueIndex"`
	VirtualAccountID uuid.UUID                     `gorm:"column:virtual_account_id;type:uuid;not null;index"`
	ContractID       uuid.UUID                     `gorm:"column:contract_id;type:uuid;not null;index"`
	MilestoneID      *uuid.UUID                    `gorm:"column:milestone_id;type:uuid;index"`
	TransactionType  enums.EscrowTransactionType   `gorm:"column:transaction_type;type:text;not null"`
	Amount           int64                         `gorm:"column:amount;not null"`
	Status           enums.EscrowTransactionStatus `gorm:"column:status;type:text;not null"`
	SenderType       enums.PartyType               `gorm:"column:sender_type;type:text;not null"`
	SenderID         *uuid.UUID                    `gorm:"column:sender_id;type:uuid"`
	ReceiverType     enums.PartyType               `gorm:"column:receiver_type;type:text;not null"`
	ReceiverID       *uuid.UUID                    `gorm:"column:receiver_id;type:uuid"`
	Description      string                        `gorm:"column:description;not null;default:''"`
	FailureReason    *string                       `gorm:"column:failure_reason"`
	CompletedAt      *time.Time                    `gorm:"column:completed_at"`
	CreatedAt        time.Time                     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                     `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *EscrowTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// SignedAmount returns the balance effect of the transaction once completed.
func (e *EscrowTransaction) SignedAmount() int64 {
	if e.TransactionType.IsDebit() {
		return -e.Amount
	}
	return e.Amount
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/enums"
)

// PayoutReservation holds part of a virtual account balance for a payout the
// request path is about to send. Reference is the gateway idempotency key of
// that payout. Held amounts are not spendable by other payouts.
type PayoutReservation struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	Reference        string                  `gorm:"column:reference;not null;uniqueIndex"`
	VirtualAccountID uuid.UUID               `gorm:"column:virtual_account_id;type:uuid;not null;index"`
	MilestoneID      *uuid.UUID              `gorm:"column:milestone_id;type:uuid"`
	Purpose          string                  `gorm:"column:purpose;not null"`
	Amount           int64                   `gorm:"column:amount;not null"`
	Status           enums.ReservationStatus `gorm:"column:status;type:text;not null"`
	PayoutExternalID *string                 `gorm:"column:payout_external_id"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PayoutReservation) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/enums"
)

// WalletTransaction is a per-user statement line mirroring a completed escrow transaction.
type WalletTransaction struct {
	ID                  uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	UserID              uuid.UUID             `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_wallet_txn_user_escrow_txn,priority:1"`
	EscrowTransactionID uuid.UUID             `gorm:"column:escrow_transaction_id;type:uuid;not null;uniqueIndex:idx_wallet_txn_user_escrow_txn,priority:2"`
	Direction           enums.WalletDirection `gorm:"column:direction;type:text;not null"`
	Amount              int64                 `gorm:"column:amount;not null"`
	BalanceAfter        int64                 `gorm:"column:balance_after;not null"`
	Description         string                `gorm:"column:description;not null;default:''"`
	CreatedAt           time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (w *WalletTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}

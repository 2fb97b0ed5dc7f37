package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/enums"
)

// WebhookEvent stores a verified gateway delivery and its reconciliation outcome.
// Payload holds the exact bytes the signature was computed over.
type WebhookEvent struct {
	ID               uuid.UUID                     `gorm:"column:id;type:uuid;primaryKey"`
	Source           enums.WebhookSource           `gorm:"column:source;type:text;not null"`
	EventType        string                        `gorm:"column:event_type;not null"`
	ExternalEventID  string                        `gorm:"column:external_event_id;not null;uniqueIndex"`
	Signature        string                        `gorm:"column:signature;not null"`
	IsVerified       bool                          `gorm:"column:is_verified;not null;default:false"`
	Payload          []byte                        `gorm:"column:payload;type:bytea;not null"`
	ProcessingStatus enums.WebhookProcessingStatus `gorm:"column:processing_status;type:text;not null;default:'pending'"`
	FailureReason    *string                       `gorm:"column:failure_reason"`
	Note             *string                       `gorm:"column:note"`
	AttemptCount     int                           `gorm:"column:attempt_count;not null;default:0"`
	ProcessedAt      *time.Time                    `gorm:"column:processed_at"`
	CreatedAt        time.Time                     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                     `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *WebhookEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}

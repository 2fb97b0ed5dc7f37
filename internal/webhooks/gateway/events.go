package gatewaywebhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/gateway"
)

// Gateway event types handled by the reconciler.
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventPayoutInitiated   = "payout.initiated"
	EventPayoutProcessed   = "payout.processed"
	EventPayoutFailed      = "payout.failed"
	EventPayoutReversed    = "payout.reversed"
)

// Event is the decoded form of a delivery. The concrete type is one of
// PaymentEvent, PayoutEvent or UnknownEvent.
type Event interface {
	Type() string
	isEvent()
}

// PaymentEntity is the payment object carried by payment.* events.
type PaymentEntity struct {
	ID               string        `json:"id"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Status           string        `json:"status"`
	Method           string        `json:"method"`
	VirtualAccountID string        `json:"virtual_account_id"`
	Reference        string        `json:"reference"`
	Notes            gateway.Notes `json:"notes"`
	CreatedAt        int64         `json:"created_at"`
}

// PayoutEntity is the payout object carried by payout.* events.
type PayoutEntity struct {
	ID            string        `json:"id"`
	FundAccountID string        `json:"fund_account_id"`
	Amount        int64         `json:"amount"`
	Status        string        `json:"status"`
	Purpose       string        `json:"purpose"`
	ReferenceID   string        `json:"reference_id"`
	UTR           *string       `json:"utr"`
	FailureReason *string       `json:"failure_reason"`
	Notes         gateway.Notes `json:"notes"`
	CreatedAt     int64         `json:"created_at"`
}

type PaymentEvent struct {
	EventType         string
	AccountExternalID string
	Payment           PaymentEntity
}

func (e PaymentEvent) Type() string { return e.EventType }
func (PaymentEvent) isEvent() {}

type PayoutEvent struct {
	EventType string
	Payout    PayoutEntity
}

func (e PayoutEvent) Type() string { return e.EventType }
func (PayoutEvent) isEvent() {}

type UnknownEvent struct {
	EventType string
}

func (e UnknownEvent) Type() string { return e.EventType }
func (UnknownEvent) isEvent() {}

// Envelope is the outer shape of every delivery.
type Envelope struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	AccountID string `json:"account_id"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment        *entityWrapper[PaymentEntity]        `json:"payment"`
		Payout         *entityWrapper[PayoutEntity]         `json:"payout"`
		VirtualAccount *entityWrapper[VirtualAccountEntity] `json:"virtual_account"`
	} `json:"payload"`
}

// VirtualAccountEntity is the account object some payment events carry.
type VirtualAccountEntity struct {
	ID string `json:"id"`
}

type entityWrapper[T any] struct {
	Entity T `json:"entity"`
}

// Decoded is a delivery ready for dispatch.
type Decoded struct {
	EventID   string
	EventType string
	Event     Event
}

// Decode parses a raw delivery. The event id is the envelope id, then the
// delivery header, then a digest of the payload so that redeliveries of an
// unlabeled body still deduplicate.
func Decode(raw []byte, headerEventID string) (*Decoded, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook envelope")
	}
	eventType := strings.TrimSpace(env.Event)
	if eventType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event type is required")
	}

	eventID := strings.TrimSpace(env.ID)
	if eventID == "" {
		eventID = strings.TrimSpace(headerEventID)
	}
	if eventID == "" {
		sum := sha256.Sum256(raw)
		eventID = "sha256:" + hex.EncodeToString(sum[:])
	}

	decoded := &Decoded{EventID: eventID, EventType: eventType}
	switch eventType {
	case EventPaymentAuthorized, EventPaymentCaptured, EventPaymentFailed:
		if env.Payload.Payment == nil || env.Payload.Payment.Entity.ID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment entity is required").
				WithDetails(map[string]any{"event": eventType})
		}
		payment := env.Payload.Payment.Entity
		accountID := payment.VirtualAccountID
		if accountID == "" && env.Payload.VirtualAccount != nil {
			accountID = env.Payload.VirtualAccount.Entity.ID
		}
		decoded.Event = PaymentEvent{EventType: eventType, AccountExternalID: accountID, Payment: payment}
	case EventPayoutInitiated, EventPayoutProcessed, EventPayoutFailed, EventPayoutReversed:
		if env.Payload.Payout == nil || env.Payload.Payout.Entity.ID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout entity is required").
				WithDetails(map[string]any{"event": eventType})
		}
		decoded.Event = PayoutEvent{EventType: eventType, Payout: env.Payload.Payout.Entity}
	default:
		decoded.Event = UnknownEvent{EventType: eventType}
	}
	return decoded, nil
}

// PayoutEventFromResult turns a polled gateway payout into the event the
// gateway would have delivered for its status. ok is false while the payout
// is still moving.
func PayoutEventFromResult(result *gateway.PayoutResult) (PayoutEvent, bool) {
	if result == nil {
		return PayoutEvent{}, false
	}
	status, err := result.PayoutStatus()
	if err != nil || !status.IsTerminal() {
		return PayoutEvent{}, false
	}
	eventType := EventPayoutProcessed
	switch status {
	case enums.PayoutStatusFailed:
		eventType = EventPayoutFailed
	case enums.PayoutStatusReversed:
		eventType = EventPayoutReversed
	}
	return PayoutEvent{
		EventType: eventType,
		Payout: PayoutEntity{
			ID:            result.ID,
			FundAccountID: result.FundAccountID,
			Amount:        result.Amount,
			Status:        result.Status,
			Purpose:       result.Purpose,
			ReferenceID:   result.ReferenceID,
			UTR:           result.UTR,
			FailureReason: result.FailureReason,
			Notes:         result.Notes,
		},
	}, true
}

func (p PayoutEntity) payoutStatus(eventType string) enums.PayoutStatus {
	switch eventType {
	case EventPayoutProcessed:
		return enums.PayoutStatusProcessed
	case EventPayoutFailed:
		return enums.PayoutStatusFailed
	case EventPayoutReversed:
		return enums.PayoutStatusReversed
	}
	if status, err := enums.ParsePayoutStatus(p.Status); err == nil && !status.IsTerminal() {
		return status
	}
	return enums.PayoutStatusPending
}

func (p PayoutEntity) purpose() string {
	purpose := p.Notes[gateway.NotePurpose]
	if purpose == "" {
		purpose = p.Purpose
	}
	if purpose == models.PayoutPurposeRefund {
		return models.PayoutPurposeRefund
	}
	return models.PayoutPurposeRelease
}

func noteUUID(notes gateway.Notes, key string) *uuid.UUID {
	raw, ok := notes[key]
	if !ok || raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func unixTime(seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	at := time.Unix(seconds, 0).UTC()
	return &at
}

// Package registry maps outbox event types to their topic and payload schema
// so the publisher can reject rows it could never deliver.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-ledger/pkg/config"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is a validated outbox row with its decoded payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func permanent(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

func schema[T any]() func() any {
	return func() any { return new(T) }
}

// NewEventRegistry routes every escrow event to the escrow topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.EscrowTopic == "" {
		return nil, errors.New("escrow topic is required")
	}

	schemas := []struct {
		event     enums.OutboxEventType
		aggregate enums.OutboxAggregateType
		factory   func() any
	}{
		{enums.EventEscrowAccountCreated, enums.AggregateVirtualAccount, schema[payloads.EscrowAccountCreatedEvent]()},
		{enums.EventEscrowFunded, enums.AggregateVirtualAccount, schema[payloads.EscrowFundedEvent]()},
		{enums.EventRefundProcessed, enums.AggregateVirtualAccount, schema[payloads.RefundProcessedEvent]()},
		{enums.EventBalanceDriftCorrected, enums.AggregateVirtualAccount, schema[payloads.BalanceDriftCorrectedEvent]()},
		{enums.EventMilestoneReleased, enums.AggregateMilestone, schema[payloads.MilestoneReleasedEvent]()},
		{enums.EventMilestoneDisputed, enums.AggregateMilestone, schema[payloads.MilestoneDisputeEvent]()},
		{enums.EventMilestoneDisputeResolved, enums.AggregateMilestone, schema[payloads.MilestoneDisputeEvent]()},
		{enums.EventPayoutFailed, enums.AggregatePayout, schema[payloads.PayoutFailedEvent]()},
		{enums.EventPayoutFailedAfterRelease, enums.AggregatePayout, schema[payloads.PayoutFailedEvent]()},
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(schemas))}
	for _, s := range schemas {
		reg.entries[s.event] = EventDescriptor{
			EventType:      s.event,
			AggregateType:  s.aggregate,
			Topic:          cfg.EscrowTopic,
			PayloadFactory: s.factory,
		}
	}
	return reg, nil
}

// Resolve checks routing, envelope and payload. Every failure is a
// NonRetryableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, permanent("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, permanent("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, permanent("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, permanent("decode envelope: %w", err)
	}
	if envelope.EventID == "" {
		return nil, permanent("envelope missing event id")
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, permanent("payload missing for %s", event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, permanent("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

package enums

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateVirtualAccount OutboxAggregateType = "virtual_account"
	AggregateMilestone      OutboxAggregateType = "milestone"
	AggregatePayout         OutboxAggregateType = "payout"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateVirtualAccount,
	AggregateMilestone,
	AggregatePayout,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return member(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse(validAggregateTypes, "aggregate type", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventEscrowAccountCreated     OutboxEventType = "escrow_account_created"
	EventEscrowFunded             OutboxEventType = "escrow_funded"
	EventMilestoneReleased        OutboxEventType = "milestone_released"
	EventRefundProcessed          OutboxEventType = "refund_processed"
	EventPayoutFailed             OutboxEventType = "payout_failed"
	EventPayoutFailedAfterRelease OutboxEventType = "payout_failed_after_release"
	EventMilestoneDisputed        OutboxEventType = "milestone_disputed"
	EventMilestoneDisputeResolved OutboxEventType = "milestone_dispute_resolved"
	EventBalanceDriftCorrected    OutboxEventType = "balance_drift_corrected"
)

var validOutboxEventTypes = []OutboxEventType{
	EventEscrowAccountCreated,
	EventEscrowFunded,
	EventMilestoneReleased,
	EventRefundProcessed,
	EventPayoutFailed,
	EventPayoutFailedAfterRelease,
	EventMilestoneDisputed,
	EventMilestoneDisputeResolved,
	EventBalanceDriftCorrected,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	return member(validOutboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse(validOutboxEventTypes, "event type", value)
}

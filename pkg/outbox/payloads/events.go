package payloads

import (
	"github.com/google/uuid"
)

// EscrowAccountCreatedEvent is emitted when a contract gets its virtual account.
type EscrowAccountCreatedEvent struct {
	VirtualAccountID uuid.UUID `json:"virtual_account_id"`
	ContractID       uuid.UUID `json:"contract_id"`
	ExternalID       string    `json:"external_id"`
	BuyerID          uuid.UUID `json:"buyer_id"`
	SellerID         uuid.UUID `json:"seller_id"`
}

// EscrowFundedEvent is emitted once per captured buyer payment.
type EscrowFundedEvent struct {
	VirtualAccountID  uuid.UUID `json:"virtual_account_id"`
	ContractID        uuid.UUID `json:"contract_id"`
	TransactionID     uuid.UUID `json:"transaction_id"`
	PaymentExternalID string    `json:"payment_external_id"`
	Amount            int64     `json:"amount"`
	BalanceAfter      int64     `json:"balance_after"`
	Source            string    `json:"source"`
}

// MilestoneReleasedEvent is emitted when escrowed funds are paid to the seller.
type MilestoneReleasedEvent struct {
	MilestoneID       uuid.UUID `json:"milestone_id"`
	ContractID        uuid.UUID `json:"contract_id"`
	VirtualAccountID  uuid.UUID `json:"virtual_account_id"`
	TransactionID     uuid.UUID `json:"transaction_id"`
	PayoutExternalID  string    `json:"payout_external_id"`
	SellerID          uuid.UUID `json:"seller_id"`
	Amount            int64     `json:"amount"`
	BalanceAfter      int64     `json:"balance_after"`
	ContractCompleted bool      `json:"contract_completed"`
}

// RefundProcessedEvent is emitted when escrowed funds go back to the buyer.
type RefundProcessedEvent struct {
	VirtualAccountID uuid.UUID  `json:"virtual_account_id"`
	ContractID       uuid.UUID  `json:"contract_id"`
	MilestoneID      *uuid.UUID `json:"milestone_id,omitempty"`
	TransactionID    uuid.UUID  `json:"transaction_id"`
	PayoutExternalID string     `json:"payout_external_id"`
	BuyerID          uuid.UUID  `json:"buyer_id"`
	Amount           int64      `json:"amount"`
	BalanceAfter     int64      `json:"balance_after"`
	Reason           string     `json:"reason,omitempty"`
}

// PayoutFailedEvent reports a payout the gateway could not deliver. AfterRelease
// is set when the ledger had already completed the release and needs review.
type PayoutFailedEvent struct {
	PayoutExternalID string     `json:"payout_external_id"`
	Reference        string     `json:"reference"`
	VirtualAccountID uuid.UUID  `json:"virtual_account_id"`
	MilestoneID      *uuid.UUID `json:"milestone_id,omitempty"`
	Purpose          string     `json:"purpose"`
	Amount           int64      `json:"amount"`
	Status           string     `json:"status"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	AfterRelease     bool       `json:"after_release"`
}

// MilestoneDisputeEvent covers both opening and resolving a dispute hold.
type MilestoneDisputeEvent struct {
	MilestoneID uuid.UUID `json:"milestone_id"`
	ContractID  uuid.UUID `json:"contract_id"`
	ActorID     uuid.UUID `json:"actor_id"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
}

// BalanceDriftCorrectedEvent is emitted when the stored balance disagreed with the ledger.
type BalanceDriftCorrectedEvent struct {
	VirtualAccountID uuid.UUID `json:"virtual_account_id"`
	StoredBalance    int64     `json:"stored_balance"`
	DerivedBalance   int64     `json:"derived_balance"`
}

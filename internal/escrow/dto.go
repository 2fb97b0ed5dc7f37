package escrow

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
)

// Money is a minor-unit amount with its display form.
type Money struct {
	Amount   int64  `json:"amount"`
	Display  string `json:"display"`
	Currency string `json:"currency"`
}

func newMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Display:  decimal.NewFromInt(amount).Shift(-2).StringFixed(2),
		Currency: currency,
	}
}

// AccountDTO is the external view of a virtual account.
type AccountDTO struct {
	ID         uuid.UUID                  `json:"id"`
	ExternalID string                     `json:"external_id"`
	ContractID uuid.UUID                  `json:"contract_id"`
	BuyerID    uuid.UUID                  `json:"buyer_id"`
	SellerID   uuid.UUID                  `json:"seller_id"`
	Balance    Money                      `json:"balance"`
	Status     enums.VirtualAccountStatus `json:"status"`
	Name       string                     `json:"name"`
	CreatedAt  time.Time                  `json:"created_at"`
}

// MilestoneDTO is the external view of a milestone.
type MilestoneDTO struct {
	ID               uuid.UUID             `json:"id"`
	Number           int                   `json:"milestone_number"`
	Title            string                `json:"title"`
	Amount           Money                 `json:"amount"`
	Status           enums.MilestoneStatus `json:"status"`
	DueDate          *time.Time            `json:"due_date,omitempty"`
	PaidAt           *time.Time            `json:"paid_at,omitempty"`
	RefundedAt       *time.Time            `json:"refunded_at,omitempty"`
	ExternalPayoutID *string               `json:"external_payout_id,omitempty"`
	DisputeReason    *string               `json:"dispute_reason,omitempty"`
	ReleaseInFlight  bool                  `json:"release_in_flight"`
}

// AccountDetailsDTO bundles an account with its contract state.
type AccountDetailsDTO struct {
	Account      AccountDTO           `json:"account"`
	ContractID   uuid.UUID            `json:"contract_id"`
	Status       enums.ContractStatus `json:"contract_status"`
	TotalValue   Money                `json:"total_value"`
	EscrowFunded bool                 `json:"escrow_funded"`
	EscrowAmount Money                `json:"escrow_amount"`
	Milestones   []MilestoneDTO       `json:"milestones"`
}

// TransactionDTO is the external view of an escrow transaction.
type TransactionDTO struct {
	ID               uuid.UUID                     `json:"id"`
	ExternalID       string                        `json:"external_id"`
	VirtualAccountID uuid.UUID                     `json:"virtual_account_id"`
	ContractID       uuid.UUID                     `json:"contract_id"`
	MilestoneID      *uuid.UUID                    `json:"milestone_id,omitempty"`
	Type             enums.EscrowTransactionType   `json:"transaction_type"`
	Amount           Money                         `json:"amount"`
	Status           enums.EscrowTransactionStatus `json:"status"`
	SenderType       enums.PartyType               `json:"sender_type"`
	ReceiverType     enums.PartyType               `json:"receiver_type"`
	ReceiverID       *uuid.UUID                    `json:"receiver_id,omitempty"`
	Description      string                        `json:"description"`
	FailureReason    *string                       `json:"failure_reason,omitempty"`
	CompletedAt      *time.Time                    `json:"completed_at,omitempty"`
	CreatedAt        time.Time                     `json:"created_at"`
}

// FundingDTO reports a funding request. Transaction is empty until the
// gateway captures the payment.
type FundingDTO struct {
	PaymentID     string              `json:"payment_id"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	Transaction   *TransactionDTO     `json:"transaction,omitempty"`
	Balance       Money               `json:"balance"`
	Duplicate     bool                `json:"duplicate"`
}

// PayoutDTO reports a release or refund.
type PayoutDTO struct {
	PayoutID     string             `json:"payout_id"`
	Reference    string             `json:"reference"`
	PayoutStatus enums.PayoutStatus `json:"payout_status"`
	Transaction  TransactionDTO     `json:"transaction"`
	Balance      Money              `json:"balance"`
	Milestone    *MilestoneDTO      `json:"milestone,omitempty"`
}

// FundAccountDTO is the external view of a payout destination.
type FundAccountDTO struct {
	ID            uuid.UUID             `json:"id"`
	ExternalID    string                `json:"external_id"`
	AccountType   enums.FundAccountType `json:"account_type"`
	MaskedDetails string                `json:"masked_details"`
	IsActive      bool                  `json:"is_active"`
}

// WalletLineDTO is one statement line.
type WalletLineDTO struct {
	ID                  uuid.UUID             `json:"id"`
	EscrowTransactionID uuid.UUID             `json:"escrow_transaction_id"`
	Direction           enums.WalletDirection `json:"direction"`
	Amount              Money                 `json:"amount"`
	BalanceAfter        Money                 `json:"balance_after"`
	Description         string                `json:"description"`
	CreatedAt           time.Time             `json:"created_at"`
}

// WalletStatementDTO is a user's net platform position and recent lines.
type WalletStatementDTO struct {
	UserID  uuid.UUID       `json:"user_id"`
	Balance Money           `json:"balance"`
	Lines   []WalletLineDTO `json:"lines"`
}

func (s *service) accountDTO(a *models.VirtualAccount) AccountDTO {
	return AccountDTO{
		ID:         a.ID,
		ExternalID: a.ExternalID,
		ContractID: a.ContractID,
		BuyerID:    a.BuyerID,
		SellerID:   a.SellerID,
		Balance:    newMoney(a.Balance, s.currency),
		Status:     a.Status,
		Name:       a.Name,
		CreatedAt:  a.CreatedAt,
	}
}

func (s *service) milestoneDTO(m *models.Milestone) MilestoneDTO {
	return MilestoneDTO{
		ID:               m.ID,
		Number:           m.MilestoneNumber,
		Title:            m.Title,
		Amount:           newMoney(m.Amount, s.currency),
		Status:           m.Status,
		DueDate:          m.DueDate,
		PaidAt:           m.PaidAt,
		RefundedAt:       m.RefundedAt,
		ExternalPayoutID: m.ExternalPayoutID,
		DisputeReason:    m.DisputeReason,
		ReleaseInFlight:  m.ReleaseReference != nil,
	}
}

func (s *service) transactionDTO(t *models.EscrowTransaction) TransactionDTO {
	return TransactionDTO{
		ID:               t.ID,
		ExternalID:       t.ExternalID,
		VirtualAccountID: t.VirtualAccountID,
		ContractID:       t.ContractID,
		MilestoneID:      t.MilestoneID,
		Type:             t.TransactionType,
		Amount:           newMoney(t.Amount, s.currency),
		Status:           t.Status,
		SenderType:       t.SenderType,
		ReceiverType:     t.ReceiverType,
		ReceiverID:       t.ReceiverID,
		Description:      t.Description,
		FailureReason:    t.FailureReason,
		CompletedAt:      t.CompletedAt,
		CreatedAt:        t.CreatedAt,
	}
}

func (s *service) fundAccountDTO(f *models.FundAccount) FundAccountDTO {
	return FundAccountDTO{
		ID:            f.ID,
		ExternalID:    f.ExternalID,
		AccountType:   f.AccountType,
		MaskedDetails: f.MaskedDetails,
		IsActive:      f.IsActive,
	}
}

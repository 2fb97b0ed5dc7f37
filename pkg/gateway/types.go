package gateway

import "github.com/angelmondragon/escrow-ledger/pkg/enums"

// Notes are free-form key/value pairs the gateway stores with an object and
// echoes back in webhooks.
type Notes map[string]string

// Note keys used to correlate gateway objects with ledger rows.
const (
	NoteContractID       = "contract_id"
	NoteMilestoneID      = "milestone_id"
	NoteVirtualAccountID = "virtual_account_id"
	NotePurpose          = "purpose"
	NoteReceiverID       = "receiver_id"
	NoteBuyerID          = "buyer_id"
	NoteSellerID         = "seller_id"
)

type ContactRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Type        string `json:"type,omitempty"`
	ReferenceID string `json:"reference_id,omitempty"`
}

type ContactRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type BankAccountSpec struct {
	Name          string `json:"name" validate:"required,max=120"`
	IFSC          string `json:"ifsc" validate:"required,ifsc"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=5,max=35"`
}

type VPASpec struct {
	Address string `json:"address" validate:"required,vpa"`
}

type CardSpec struct {
	Name   string `json:"name" validate:"required,max=120"`
	Number string `json:"number" validate:"required,credit_card"`
}

// AccountSpec describes a payout destination. Exactly one of the fields must be set.
type AccountSpec struct {
	BankAccount *BankAccountSpec `json:"bank_account,omitempty"`
	VPA         *VPASpec         `json:"vpa,omitempty"`
	Card        *CardSpec        `json:"card,omitempty"`
}

// Type checks that exactly one instrument is set and returns the fund account type it describes.
func (s AccountSpec) Type() (enums.FundAccountType, error) {
	set := 0
	var kind enums.FundAccountType
	if s.BankAccount != nil {
		set++
		kind = enums.FundAccountBankAccount
	}
	if s.VPA != nil {
		set++
		kind = enums.FundAccountVPA
	}
	if s.Card != nil {
		set++
		kind = enums.FundAccountCard
	}
	if set != 1 {
		return "", ErrInvalidAccountSpec
	}
	return kind, nil
}

// Masked returns a display-safe summary of the destination.
func (s AccountSpec) Masked() string {
	switch {
	case s.BankAccount != nil:
		return "bank ****" + lastN(s.BankAccount.AccountNumber, 4)
	case s.VPA != nil:
		return "vpa " + maskVPA(s.VPA.Address)
	case s.Card != nil:
		return "card ****" + lastN(s.Card.Number, 4)
	default:
		return ""
	}
}

type fundAccountRequest struct {
	ContactID   string           `json:"contact_id"`
	AccountType string           `json:"account_type"`
	BankAccount *BankAccountSpec `json:"bank_account,omitempty"`
	VPA         *VPASpec         `json:"vpa,omitempty"`
	Card        *CardSpec        `json:"card,omitempty"`
}

type FundAccountRef struct {
	ID          string `json:"id"`
	ContactID   string `json:"contact_id"`
	AccountType string `json:"account_type"`
	Active      bool   `json:"active"`
}

type VirtualAccountRequest struct {
	Name        string
	Description string
	ContractID  string
	BuyerID     string
	SellerID    string
	Notes       Notes
}

type virtualAccountBody struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Receivers   receiversTypes `json:"receivers"`
	Notes       Notes          `json:"notes,omitempty"`
}

type receiversTypes struct {
	Types []string `json:"types"`
}

type VirtualAccountRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// FundingRequest simulates a buyer-initiated transfer into a virtual account.
type FundingRequest struct {
	AccountExternalID string
	Amount            int64
	Reference         string
	Notes             Notes
}

type fundingBody struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference,omitempty"`
	Notes     Notes  `json:"notes,omitempty"`
}

type PaymentRef struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	VirtualAccountID string `json:"virtual_account_id"`
	Reference        string `json:"reference,omitempty"`
	CreatedAt        int64  `json:"created_at"`
}

// PaymentStatus maps the gateway status string onto the ledger enum.
func (p PaymentRef) PaymentStatus() (enums.PaymentStatus, error) {
	return enums.ParsePaymentStatus(p.Status)
}

type paymentList struct {
	Count int          `json:"count"`
	Items []PaymentRef `json:"items"`
}

type PayoutRequest struct {
	FundAccountExternalID string
	Amount                int64
	Reference             string
	Purpose               string
	Narration             string
	Notes                 Notes
}

type payoutBody struct {
	AccountNumber string `json:"account_number,omitempty"`
	FundAccountID string `json:"fund_account_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Mode          string `json:"mode"`
	Purpose       string `json:"purpose"`
	ReferenceID   string `json:"reference_id"`
	Narration     string `json:"narration,omitempty"`
	Notes         Notes  `json:"notes,omitempty"`
}

// PayoutResult is the gateway view of a payout.
type PayoutResult struct {
	ID            string  `json:"id"`
	FundAccountID string  `json:"fund_account_id"`
	Amount        int64   `json:"amount"`
	Status        string  `json:"status"`
	Purpose       string  `json:"purpose"`
	ReferenceID   string  `json:"reference_id"`
	UTR           *string `json:"utr,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	Notes         Notes   `json:"notes,omitempty"`
}

// PayoutStatus maps the gateway status string onto the ledger enum.
func (p PayoutResult) PayoutStatus() (enums.PayoutStatus, error) {
	return enums.ParsePayoutStatus(p.Status)
}

func lastN(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[len(value)-n:]
}

func maskVPA(address string) string {
	for i := 0; i < len(address); i++ {
		if address[i] == '@' {
			if i <= 2 {
				return address
			}
			return address[:2] + "***" + address[i:]
		}
	}
	return address
}

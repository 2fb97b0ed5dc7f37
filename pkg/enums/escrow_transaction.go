package enums

// EscrowTransactionType classifies money movement against a virtual account.
type EscrowTransactionType string

const (
	EscrowTxnFunding        EscrowTransactionType = "funding"
	EscrowTxnPaymentRelease EscrowTransactionType = "payment_release"
	EscrowTxnRefund         EscrowTransactionType = "refund"
)

var validEscrowTransactionTypes = []EscrowTransactionType{
	EscrowTxnFunding,
	EscrowTxnPaymentRelease,
	EscrowTxnRefund,
}

// IsValid reports whether the value is a known EscrowTransactionType.
func (t EscrowTransactionType) IsValid() bool {
	return member(validEscrowTransactionTypes, t)
}

// IsDebit reports whether a completed transaction of this type decreases the balance.
func (t EscrowTransactionType) IsDebit() bool {
	return t == EscrowTxnPaymentRelease || t == EscrowTxnRefund
}

// ParseEscrowTransactionType converts raw input into an EscrowTransactionType.
func ParseEscrowTransactionType(value string) (EscrowTransactionType, error) {
	return parse(validEscrowTransactionTypes, "escrow transaction type", value)
}

type EscrowTransactionStatus string

const (
	EscrowTxnStatusPending   EscrowTransactionStatus = "pending"
	EscrowTxnStatusCompleted EscrowTransactionStatus = "completed"
	EscrowTxnStatusFailed    EscrowTransactionStatus = "failed"
)

var validEscrowTransactionStatuses = []EscrowTransactionStatus{
	EscrowTxnStatusPending,
	EscrowTxnStatusCompleted,
	EscrowTxnStatusFailed,
}

func (s EscrowTransactionStatus) IsValid() bool {
	return member(validEscrowTransactionStatuses, s)
}

// PartyType identifies the sender or receiver side of an escrow transaction.
type PartyType string

const (
	PartyBuyer  PartyType = "buyer"
	PartySeller PartyType = "seller"
	PartyEscrow PartyType = "escrow"
)

package enums

// WalletDirection is the sign of a wallet transaction.
type WalletDirection string

const (
	WalletCredit WalletDirection = "credit"
	WalletDebit  WalletDirection = "debit"
)

func (d WalletDirection) IsValid() bool {
	return d == WalletCredit || d == WalletDebit
}

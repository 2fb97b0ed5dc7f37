package enums

// FundAccountType is the instrument a payout can be sent to.
type FundAccountType string

const (
	FundAccountBankAccount FundAccountType = "bank_account"
	FundAccountVPA         FundAccountType = "vpa"
	FundAccountCard        FundAccountType = "card"
)

var validFundAccountTypes = []FundAccountType{
	FundAccountBankAccount,
	FundAccountVPA,
	FundAccountCard,
}

// IsValid reports whether the value is a known FundAccountType.
func (f FundAccountType) IsValid() bool {
	return member(validFundAccountTypes, f)
}

// ParseFundAccountType converts raw input into a FundAccountType.
func ParseFundAccountType(value string) (FundAccountType, error) {
	return parse(validFundAccountTypes, "fund account type", value)
}

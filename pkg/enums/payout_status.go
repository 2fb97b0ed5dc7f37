package enums

// PayoutStatus mirrors the gateway payout lifecycle.
type PayoutStatus string

const (
	PayoutStatusQueued     PayoutStatus = "queued"
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusProcessed  PayoutStatus = "processed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusReversed   PayoutStatus = "reversed"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutStatusQueued,
	PayoutStatusPending,
	PayoutStatusProcessing,
	PayoutStatusProcessed,
	PayoutStatusFailed,
	PayoutStatusReversed,
}

// String implements fmt.Stringer.
func (p PayoutStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutStatus.
func (p PayoutStatus) IsValid() bool {
	return member(validPayoutStatuses, p)
}

// IsTerminal reports whether the gateway will not move the payout again.
func (p PayoutStatus) IsTerminal() bool {
	switch p {
	case PayoutStatusProcessed, PayoutStatusFailed, PayoutStatusReversed:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the payout did not reach the beneficiary.
func (p PayoutStatus) IsFailure() bool {
	return p == PayoutStatusFailed || p == PayoutStatusReversed
}

// ParsePayoutStatus converts raw input into a PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	return parse(validPayoutStatuses, "payout status", value)
}

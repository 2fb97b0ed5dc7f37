package enums

// ContractStatus tracks whether a sourcing contract still has open milestones.
type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "active"
	ContractStatusCompleted ContractStatus = "completed"
)

var validContractStatuses = []ContractStatus{
	ContractStatusActive,
	ContractStatusCompleted,
}

// String implements fmt.Stringer.
func (c ContractStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known ContractStatus.
func (c ContractStatus) IsValid() bool {
	return member(validContractStatuses, c)
}

// ParseContractStatus converts raw input into a ContractStatus.
func ParseContractStatus(value string) (ContractStatus, error) {
	return parse(validContractStatuses, "contract status", value)
}

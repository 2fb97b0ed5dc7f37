package enums

// MilestoneStatus is the payment state of a contract milestone.
type MilestoneStatus string

const (
	MilestoneStatusPending  MilestoneStatus = "pending"
	MilestoneStatusPaid     MilestoneStatus = "paid"
	MilestoneStatusRefunded MilestoneStatus = "refunded"
	MilestoneStatusDisputed MilestoneStatus = "disputed"
)

var validMilestoneStatuses = []MilestoneStatus{
	MilestoneStatusPending,
	MilestoneStatusPaid,
	MilestoneStatusRefunded,
	MilestoneStatusDisputed,
}

// String implements fmt.Stringer.
func (m MilestoneStatus) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MilestoneStatus.
func (m MilestoneStatus) IsValid() bool {
	return member(validMilestoneStatuses, m)
}

// IsTerminal reports whether no further transition is possible.
func (m MilestoneStatus) IsTerminal() bool {
	return m == MilestoneStatusPaid || m == MilestoneStatusRefunded
}

// ParseMilestoneStatus converts raw input into a MilestoneStatus.
func ParseMilestoneStatus(value string) (MilestoneStatus, error) {
	return parse(validMilestoneStatuses, "milestone status", value)
}

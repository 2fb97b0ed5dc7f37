package enums

type VirtualAccountStatus string

const (
	VirtualAccountStatusActive VirtualAccountStatus = "active"
	VirtualAccountStatusClosed VirtualAccountStatus = "closed"
)

var validVirtualAccountStatuses = []VirtualAccountStatus{
	VirtualAccountStatusActive,
	VirtualAccountStatusClosed,
}

func (v VirtualAccountStatus) IsValid() bool {
	return member(validVirtualAccountStatuses, v)
}

// ParseVirtualAccountStatus converts raw input into a VirtualAccountStatus.
func ParseVirtualAccountStatus(value string) (VirtualAccountStatus, error) {
	return parse(validVirtualAccountStatuses, "virtual account status", value)
}

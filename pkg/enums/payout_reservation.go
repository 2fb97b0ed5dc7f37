package enums

// ReservationStatus tracks a hold placed on escrow funds while a payout is
// with the gateway.
type ReservationStatus string

const (
	ReservationHeld     ReservationStatus = "held"
	ReservationSettled  ReservationStatus = "settled"
	ReservationReleased ReservationStatus = "released"
)

var validReservationStatuses = []ReservationStatus{
	ReservationHeld,
	ReservationSettled,
	ReservationReleased,
}

func (r ReservationStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReservationStatus.
func (r ReservationStatus) IsValid() bool {
	return member(validReservationStatuses, r)
}

// ParseReservationStatus converts raw input into a ReservationStatus.
func ParseReservationStatus(value string) (ReservationStatus, error) {
	return parse(validReservationStatuses, "reservation status", value)
}

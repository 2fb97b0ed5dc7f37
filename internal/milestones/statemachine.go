package milestones

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
)

// Action is an operation that moves a milestone between states.
type Action string

const (
	ActionRelease Action = "release"
	ActionRefund  Action = "refund"
	ActionDispute Action = "dispute"
	ActionResolve Action = "resolve"
)

// pending -> paid | refunded | disputed, disputed -> pending. paid and refunded are terminal.
var transitions = map[enums.MilestoneStatus]map[Action]enums.MilestoneStatus{
	enums.MilestoneStatusPending: {
		ActionRelease: enums.MilestoneStatusPaid,
		ActionRefund:  enums.MilestoneStatusRefunded,
		ActionDispute: enums.MilestoneStatusDisputed,
	},
	enums.MilestoneStatusDisputed: {
		ActionResolve: enums.MilestoneStatusPending,
	},
}

// Next returns the state reached by applying action to current.
func Next(current enums.MilestoneStatus, action Action) (enums.MilestoneStatus, error) {
	if next, ok := transitions[current][action]; ok {
		return next, nil
	}
	if action == ActionRelease && current == enums.MilestoneStatusPaid {
		return "", pkgerrors.New(pkgerrors.CodeMilestoneAlreadyPaid, "milestone already paid")
	}
	return "", pkgerrors.New(pkgerrors.CodeInvalidState,
		fmt.Sprintf("cannot %s milestone in status %s", action, current)).
		WithDetails(map[string]any{"status": current, "action": action})
}

// CanTransition reports whether any action moves from to to.
func CanTransition(from, to enums.MilestoneStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckReleasable returns the error a release of m would fail with, if any.
func CheckReleasable(m *models.Milestone) error {
	_, err := Next(m.Status, ActionRelease)
	return err
}

// MarkPaid moves a pending milestone to paid and records the payout.
func MarkPaid(m *models.Milestone, payoutID string, at time.Time) error {
	next, err := Next(m.Status, ActionRelease)
	if err != nil {
		return err
	}
	m.Status = next
	paidAt := at.UTC()
	m.PaidAt = &paidAt
	if payoutID != "" {
		id := payoutID
		m.ExternalPayoutID = &id
	}
	ClearClaim(m)
	return nil
}

// MarkRefunded moves a pending milestone to refunded.
func MarkRefunded(m *models.Milestone, at time.Time) error {
	next, err := Next(m.Status, ActionRefund)
	if err != nil {
		return err
	}
	m.Status = next
	refundedAt := at.UTC()
	m.RefundedAt = &refundedAt
	return nil
}

// MarkDisputed puts a pending milestone on hold.
func MarkDisputed(m *models.Milestone, reason string) error {
	if m.ReleaseReference != nil {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "milestone has a release in flight")
	}
	next, err := Next(m.Status, ActionDispute)
	if err != nil {
		return err
	}
	m.Status = next
	if r := strings.TrimSpace(reason); r != "" {
		m.DisputeReason = &r
	}
	return nil
}

// Resolve lifts a dispute hold.
func Resolve(m *models.Milestone) error {
	next, err := Next(m.Status, ActionResolve)
	if err != nil {
		return err
	}
	m.Status = next
	m.DisputeReason = nil
	return nil
}

// ClearClaim drops the in-flight release marker.
func ClearClaim(m *models.Milestone) {
	m.ReleaseReference = nil
	m.ReleaseClaimedAt = nil
}

// ClaimExpired reports whether an in-flight claim is older than ttl and may be taken over.
func ClaimExpired(m *models.Milestone, now time.Time, ttl time.Duration) bool {
	if m.ReleaseClaimedAt == nil {
		return true
	}
	return now.Sub(*m.ReleaseClaimedAt) >= ttl
}

// AllPaid reports whether every milestone of a contract is paid.
func AllPaid(ms []models.Milestone) bool {
	if len(ms) == 0 {
		return false
	}
	for _, m := range ms {
		if m.Status != enums.MilestoneStatusPaid {
			return false
		}
	}
	return true
}

// ValidateSchedule checks that milestone numbers are 1-based and contiguous,
// amounts are positive and the total does not exceed the contract value.
func ValidateSchedule(totalValue int64, ms []models.Milestone) error {
	if len(ms) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one milestone is required")
	}
	sorted := make([]models.Milestone, len(ms))
	copy(sorted, ms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MilestoneNumber < sorted[j].MilestoneNumber })

	var sum int64
	for i, m := range sorted {
		if m.MilestoneNumber != i+1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "milestone numbers must be contiguous starting at 1").
				WithDetails(map[string]any{"expected": i + 1, "got": m.MilestoneNumber})
		}
		if m.Amount <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "milestone amount must be positive").
				WithDetails(map[string]any{"milestone_number": m.MilestoneNumber})
		}
		sum += m.Amount
	}
	if totalValue > 0 && sum > totalValue {
		return pkgerrors.New(pkgerrors.CodeValidation, "milestone amounts exceed contract value").
			WithDetails(map[string]any{"total_value": totalValue, "milestones_total": sum})
	}
	return nil
}

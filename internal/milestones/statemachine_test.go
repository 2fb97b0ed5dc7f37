package milestones

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
)

func TestNextAllowedTransitions(t *testing.T) {
	cases := []struct {
		from   enums.MilestoneStatus
		action Action
		want   enums.MilestoneStatus
	}{
		{enums.MilestoneStatusPending, ActionRelease, enums.MilestoneStatusPaid},
		{enums.MilestoneStatusPending, ActionRefund, enums.MilestoneStatusRefunded},
		{enums.MilestoneStatusPending, ActionDispute, enums.MilestoneStatusDisputed},
		{enums.MilestoneStatusDisputed, ActionResolve, enums.MilestoneStatusPending},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.action)
		require.NoError(t, err, "%s -%s->", tc.from, tc.action)
		assert.Equal(t, tc.want, got)
	}
}

func TestNextRejectsEverythingElse(t *testing.T) {
	all := []enums.MilestoneStatus{
		enums.MilestoneStatusPending,
		enums.MilestoneStatusPaid,
		enums.MilestoneStatusRefunded,
		enums.MilestoneStatusDisputed,
	}
	actions := []Action{ActionRelease, ActionRefund, ActionDispute, ActionResolve}
	allowed := 0
	for _, from := range all {
		for _, action := range actions {
			_, err := Next(from, action)
			if err == nil {
				allowed++
				continue
			}
			assert.Contains(t, []pkgerrors.Code{pkgerrors.CodeInvalidState, pkgerrors.CodeMilestoneAlreadyPaid}, pkgerrors.CodeOf(err))
		}
	}
	assert.Equal(t, 4, allowed)
}

func TestTerminalStatesNeverLeave(t *testing.T) {
	for _, terminal := range []enums.MilestoneStatus{enums.MilestoneStatusPaid, enums.MilestoneStatusRefunded} {
		for _, to := range []enums.MilestoneStatus{enums.MilestoneStatusPending, enums.MilestoneStatusDisputed, enums.MilestoneStatusPaid, enums.MilestoneStatusRefunded} {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestReleaseOfPaidMilestoneReportsAlreadyPaid(t *testing.T) {
	m := &models.Milestone{Status: enums.MilestoneStatusPaid}
	err := CheckReleasable(m)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeMilestoneAlreadyPaid, pkgerrors.CodeOf(err))

	m.Status = enums.MilestoneStatusDisputed
	err = CheckReleasable(m)
	assert.Equal(t, pkgerrors.CodeInvalidState, pkgerrors.CodeOf(err))
}

func TestMarkPaidSetsFieldsAndClearsClaim(t *testing.T) {
	ref := "rel-1"
	claimed := time.Now()
	m := &models.Milestone{Status: enums.MilestoneStatusPending, ReleaseReference: &ref, ReleaseClaimedAt: &claimed}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, MarkPaid(m, "pout_1", now))
	assert.Equal(t, enums.MilestoneStatusPaid, m.Status)
	require.NotNil(t, m.PaidAt)
	assert.True(t, m.PaidAt.Equal(now))
	require.NotNil(t, m.ExternalPayoutID)
	assert.Equal(t, "pout_1", *m.ExternalPayoutID)
	assert.Nil(t, m.ReleaseReference)
	assert.Nil(t, m.ReleaseClaimedAt)

	assert.Error(t, MarkPaid(m, "pout_2", now))
	assert.Equal(t, "pout_1", *m.ExternalPayoutID)
}

func TestDisputeAndResolve(t *testing.T) {
	m := &models.Milestone{Status: enums.MilestoneStatusPending}
	require.NoError(t, MarkDisputed(m, "goods damaged"))
	assert.Equal(t, enums.MilestoneStatusDisputed, m.Status)
	require.NotNil(t, m.DisputeReason)

	assert.Error(t, CheckReleasable(m))

	require.NoError(t, Resolve(m))
	assert.Equal(t, enums.MilestoneStatusPending, m.Status)
	assert.Nil(t, m.DisputeReason)
}

func TestDisputeBlockedWhileReleaseInFlight(t *testing.T) {
	ref := "rel-9"
	m := &models.Milestone{Status: enums.MilestoneStatusPending, ReleaseReference: &ref}
	err := MarkDisputed(m, "")
	assert.Equal(t, pkgerrors.CodeInvalidState, pkgerrors.CodeOf(err))
	assert.Equal(t, enums.MilestoneStatusPending, m.Status)
}

func TestClaimExpired(t *testing.T) {
	now := time.Now()
	m := &models.Milestone{}
	assert.True(t, ClaimExpired(m, now, time.Minute))

	recent := now.Add(-10 * time.Second)
	m.ReleaseClaimedAt = &recent
	assert.False(t, ClaimExpired(m, now, time.Minute))

	stale := now.Add(-2 * time.Minute)
	m.ReleaseClaimedAt = &stale
	assert.True(t, ClaimExpired(m, now, time.Minute))
}

func TestAllPaid(t *testing.T) {
	assert.False(t, AllPaid(nil))
	assert.False(t, AllPaid([]models.Milestone{{Status: enums.MilestoneStatusPaid}, {Status: enums.MilestoneStatusPending}}))
	assert.True(t, AllPaid([]models.Milestone{{Status: enums.MilestoneStatusPaid}, {Status: enums.MilestoneStatusPaid}}))
}

func TestValidateSchedule(t *testing.T) {
	ok := []models.Milestone{{MilestoneNumber: 2, Amount: 60}, {MilestoneNumber: 1, Amount: 40}}
	require.NoError(t, ValidateSchedule(100, ok))

	gap := []models.Milestone{{MilestoneNumber: 1, Amount: 40}, {MilestoneNumber: 3, Amount: 60}}
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(ValidateSchedule(100, gap)))

	over := []models.Milestone{{MilestoneNumber: 1, Amount: 80}, {MilestoneNumber: 2, Amount: 60}}
	assert.Error(t, ValidateSchedule(100, over))

	zero := []models.Milestone{{MilestoneNumber: 1, Amount: 0}}
	assert.Error(t, ValidateSchedule(100, zero))

	assert.Error(t, ValidateSchedule(100, nil))
}

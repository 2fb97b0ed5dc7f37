package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/escrow-ledger/internal/ledger"
	gatewaywebhook "github.com/angelmondragon/escrow-ledger/internal/webhooks/gateway"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	"github.com/angelmondragon/escrow-ledger/pkg/gateway"
)

type fakeWebhookStore struct {
	rows          []models.WebhookEvent
	maxAttempts   int
	updatedBefore time.Time
}

func (f *fakeWebhookStore) ListRetryableWebhookEvents(_ context.Context, maxAttempts int, updatedBefore time.Time, _ int) ([]models.WebhookEvent, error) {
	f.maxAttempts = maxAttempts
	f.updatedBefore = updatedBefore
	return f.rows, nil
}

type fakeReprocessor struct {
	seen     []string
	failWith map[string]error
	rejected map[string]bool
}

func (f *fakeReprocessor) Reprocess(_ context.Context, row *models.WebhookEvent) (*gatewaywebhook.Result, error) {
	f.seen = append(f.seen, row.ExternalEventID)
	if err := f.failWith[row.ExternalEventID]; err != nil {
		return nil, err
	}
	status := enums.WebhookStatusProcessed
	if f.rejected[row.ExternalEventID] {
		status = enums.WebhookStatusFailed
	}
	return &gatewaywebhook.Result{EventID: row.ExternalEventID, Status: status}, nil
}

func TestWebhookRetryJobReplaysEveryRow(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeWebhookStore{rows: []models.WebhookEvent{
		{ExternalEventID: "evt_1"},
		{ExternalEventID: "evt_2"},
		{ExternalEventID: "evt_3"},
	}}
	reprocessor := &fakeReprocessor{
		failWith: map[string]error{"evt_2": errors.New("db unavailable")},
		rejected: map[string]bool{"evt_3": true},
	}
	job, err := NewWebhookRetryJob(WebhookRetryJobParams{
		Logger:     testLogger(),
		Events:     store,
		Reconciler: reprocessor,
	})
	require.NoError(t, err)
	job.(*webhookRetryJob).now = func() time.Time { return now }

	err = job.Run(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 1)
	require.Equal(t, []string{"evt_1", "evt_2", "evt_3"}, reprocessor.seen)
	require.Equal(t, defaultWebhookMaxAttempts, store.maxAttempts)
	require.True(t, store.updatedBefore.Equal(now.Add(-defaultWebhookRetryDelay)))
}

type fakePayoutStore struct {
	payouts []models.Payout
}

func (f *fakePayoutStore) ListNonTerminalPayouts(context.Context, time.Time, int) ([]models.Payout, error) {
	return f.payouts, nil
}

type fakePayoutGateway struct {
	results map[string]*gateway.PayoutResult
}

func (f *fakePayoutGateway) GetPayout(_ context.Context, id string) (*gateway.PayoutResult, error) {
	result, ok := f.results[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return result, nil
}

type fakePayoutApplier struct {
	applied []gatewaywebhook.PayoutEvent
}

func (f *fakePayoutApplier) ApplyPayout(_ context.Context, event gatewaywebhook.PayoutEvent) (string, error) {
	f.applied = append(f.applied, event)
	if event.EventType == gatewaywebhook.EventPayoutFailed {
		return ledger.NotePayoutFailedAfterRelease, nil
	}
	return "", nil
}

func TestPayoutReconcileJobAppliesTerminalPayouts(t *testing.T) {
	reason := "account closed"
	applier := &fakePayoutApplier{}
	job, err := NewPayoutReconcileJob(PayoutReconcileJobParams{
		Logger: testLogger(),
		Payouts: &fakePayoutStore{payouts: []models.Payout{
			{ExternalID: "pout_done"},
			{ExternalID: "pout_moving"},
			{ExternalID: "pout_failed"},
			{ExternalID: "pout_missing"},
		}},
		Gateway: &fakePayoutGateway{results: map[string]*gateway.PayoutResult{
			"pout_done":   {ID: "pout_done", Status: "processed", Amount: 100},
			"pout_moving": {ID: "pout_moving", Status: "processing", Amount: 100},
			"pout_failed": {ID: "pout_failed", Status: "failed", Amount: 100, FailureReason: &reason},
		}},
		Reconciler: applier,
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 1)

	require.Len(t, applier.applied, 2)
	require.Equal(t, gatewaywebhook.EventPayoutProcessed, applier.applied[0].EventType)
	require.Equal(t, gatewaywebhook.EventPayoutFailed, applier.applied[1].EventType)
	require.Equal(t, reason, *applier.applied[1].Payout.FailureReason)
}

type fakeAccounts struct {
	accounts []models.VirtualAccount
}

func (f *fakeAccounts) ListActiveVirtualAccounts(context.Context, int) ([]models.VirtualAccount, error) {
	return f.accounts, nil
}

type fakeRefresher struct {
	calls   int
	drifted uuid.UUID
	broken  uuid.UUID
}

func (f *fakeRefresher) RefreshBalance(_ context.Context, id uuid.UUID) (*ledger.BalanceCheck, error) {
	f.calls++
	if id == f.broken {
		return nil, errors.New("gateway timeout")
	}
	return &ledger.BalanceCheck{VirtualAccountID: id, Corrected: id == f.drifted}, nil
}

func TestBalanceReconcileJobContinuesPastFailures(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	refresher := &fakeRefresher{drifted: b, broken: a}
	job, err := NewBalanceReconcileJob(BalanceReconcileJobParams{
		Logger:    testLogger(),
		Accounts:  &fakeAccounts{accounts: []models.VirtualAccount{{ID: a}, {ID: b}, {ID: c}}},
		Refresher: refresher,
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 3, refresher.calls)
}

func TestJobConstructorsValidateDependencies(t *testing.T) {
	_, err := NewWebhookRetryJob(WebhookRetryJobParams{Logger: testLogger()})
	require.Error(t, err)
	_, err = NewPayoutReconcileJob(PayoutReconcileJobParams{Logger: testLogger()})
	require.Error(t, err)
	_, err = NewBalanceReconcileJob(BalanceReconcileJobParams{Logger: testLogger()})
	require.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger()})
	require.Error(t, err)
}

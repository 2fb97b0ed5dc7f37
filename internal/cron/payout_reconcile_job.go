package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	gatewaywebhook "github.com/angelmondragon/escrow-ledger/internal/webhooks/gateway"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/gateway"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
)

const defaultPayoutLookback = 10 * time.Minute

type PayoutReconcileJobParams struct {
	Logger     *logger.Logger
	Payouts    nonTerminalPayoutLister
	Gateway    payoutFetcher
	Reconciler payoutApplier
	Lookback   time.Duration
	BatchLimit int
}

type nonTerminalPayoutLister interface {
	ListNonTerminalPayouts(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payout, error)
}

type payoutFetcher interface {
	GetPayout(ctx context.Context, payoutID string) (*gateway.PayoutResult, error)
}

type payoutApplier interface {
	ApplyPayout(ctx context.Context, event gatewaywebhook.PayoutEvent) (string, error)
}

// NewPayoutReconcileJob builds the job that polls the gateway for payouts
// whose terminal webhook never arrived and applies them like a delivery.
func NewPayoutReconcileJob(params PayoutReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout lister required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("payout reconciler required")
	}
	job := &payoutReconcileJob{
		logg:       params.Logger,
		payouts:    params.Payouts,
		gateway:    params.Gateway,
		reconciler: params.Reconciler,
		lookback:   params.Lookback,
		limit:      params.BatchLimit,
		now:        time.Now,
	}
	if job.lookback <= 0 {
		job.lookback = defaultPayoutLookback
	}
	if job.limit <= 0 {
		job.limit = defaultBatchLimit
	}
	return job, nil
}

type payoutReconcileJob struct {
	logg       *logger.Logger
	payouts    nonTerminalPayoutLister
	gateway    payoutFetcher
	reconciler payoutApplier
	lookback   time.Duration
	limit      int
	now        func() time.Time
}

func (j *payoutReconcileJob) Name() string { return "payout-reconcile" }

func (j *payoutReconcileJob) Run(ctx context.Context) error {
	payouts, err := j.payouts.ListNonTerminalPayouts(ctx, j.now().UTC().Add(-j.lookback), j.limit)
	if err != nil {
		return fmt.Errorf("list non-terminal payouts: %w", err)
	}

	var errs error
	applied, waiting := 0, 0
	for _, payout := range payouts {
		result, err := j.gateway.GetPayout(ctx, payout.ExternalID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("fetch payout %s: %w", payout.ExternalID, err))
			continue
		}
		event, terminal := gatewaywebhook.PayoutEventFromResult(result)
		if !terminal {
			waiting++
			continue
		}
		note, err := j.reconciler.ApplyPayout(ctx, event)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("apply payout %s: %w", payout.ExternalID, err))
			continue
		}
		applied++
		if note != "" {
			j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
				"payout_id": payout.ExternalID,
				"note":      note,
			}), "payout reconciled with note")
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(payouts),
		"applied":    applied,
		"waiting":    waiting,
	}), "payout reconcile pass complete")
	return errs
}

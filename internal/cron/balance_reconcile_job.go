package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/escrow-ledger/internal/ledger"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
)

type BalanceReconcileJobParams struct {
	Logger     *logger.Logger
	Accounts   activeAccountLister
	Refresher  balanceRefresher
	BatchLimit int
}

type activeAccountLister interface {
	ListActiveVirtualAccounts(ctx context.Context, limit int) ([]models.VirtualAccount, error)
}

type balanceRefresher interface {
	RefreshBalance(ctx context.Context, virtualAccountID uuid.UUID) (*ledger.BalanceCheck, error)
}

// NewBalanceReconcileJob builds the job that pulls captured payments the
// webhooks missed and corrects balances that drifted from the ledger.
func NewBalanceReconcileJob(params BalanceReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account lister required")
	}
	if params.Refresher == nil {
		return nil, fmt.Errorf("balance refresher required")
	}
	limit := params.BatchLimit
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	return &balanceReconcileJob{
		logg:      params.Logger,
		accounts:  params.Accounts,
		refresher: params.Refresher,
		limit:     limit,
	}, nil
}

type balanceReconcileJob struct {
	logg      *logger.Logger
	accounts  activeAccountLister
	refresher balanceRefresher
	limit     int
}

func (j *balanceReconcileJob) Name() string { return "balance-reconcile" }

func (j *balanceReconcileJob) Run(ctx context.Context) error {
	accounts, err := j.accounts.ListActiveVirtualAccounts(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("list active virtual accounts: %w", err)
	}

	var errs error
	corrected := 0
	for _, account := range accounts {
		check, err := j.refresher.RefreshBalance(ctx, account.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refresh %s: %w", account.ID, err))
			continue
		}
		if check.Corrected {
			corrected++
			j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
				"virtual_account_id": account.ID.String(),
				"stored":             check.Stored,
				"derived":            check.Derived,
			}), "balance drift corrected")
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"accounts":  len(accounts),
		"corrected": corrected,
	}), "balance reconcile pass complete")
	return errs
}

package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox/payloads"
)

// BalanceCheck compares the stored balance with the one derived from
// completed escrow transactions.
type BalanceCheck struct {
	VirtualAccountID uuid.UUID
	Stored           int64
	Derived          int64
	Corrected        bool
}

// ReconcileBalance rewrites the stored balance when it drifted from the ledger.
func (s *service) ReconcileBalance(ctx context.Context, virtualAccountID uuid.UUID) (*BalanceCheck, error) {
	check := &BalanceCheck{VirtualAccountID: virtualAccountID}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := s.lockAccount(ctx, repo, virtualAccountID, "")
		if err != nil {
			return err
		}
		derived, err := repo.SumCompleted(ctx, account.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "derive balance")
		}
		check.Stored = account.Balance
		check.Derived = derived
		if derived == account.Balance {
			return nil
		}
		if err := repo.UpdateVirtualAccountBalance(ctx, account.ID, derived); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "correct balance")
		}
		check.Corrected = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBalanceDriftCorrected,
			AggregateType: enums.AggregateVirtualAccount,
			AggregateID:   account.ID,
			Actor:         &outbox.ActorRef{Role: outbox.RoleSystem},
			Data: payloads.BalanceDriftCorrectedEvent{
				VirtualAccountID: account.ID,
				StoredBalance:    account.Balance,
				DerivedBalance:   derived,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if check.Corrected {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"virtual_account_id": virtualAccountID.String(),
			"stored_balance":     check.Stored,
			"derived_balance":    check.Derived,
		}), "escrow balance drift corrected")
	}
	return check, nil
}

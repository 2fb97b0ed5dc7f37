package ledger

import (
	"context"

	"github.com/google/uuid"

	dbpkg "github.com/angelmondragon/escrow-ledger/pkg/db"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
)

// appendWallet mirrors a completed escrow transaction onto the user's
// statement. At most one line exists per user and escrow transaction;
// balance_after is the running net position and may go negative. The wallet
// lock is the last lock a ledger command takes.
func (s *service) appendWallet(ctx context.Context, repo Repository, userID uuid.UUID, txn *models.EscrowTransaction, direction enums.WalletDirection, description string) error {
	if userID == uuid.Nil {
		return nil
	}
	if err := repo.LockWallet(ctx, userID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock wallet")
	}
	balance, err := repo.WalletBalance(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read wallet balance")
	}
	if direction == enums.WalletCredit {
		balance += txn.Amount
	} else {
		balance -= txn.Amount
	}
	entry := &models.WalletTransaction{
		UserID:              userID,
		EscrowTransactionID: txn.ID,
		Direction:           direction,
		Amount:              txn.Amount,
		BalanceAfter:        balance,
		Description:         description,
	}
	if err := repo.CreateWalletTransaction(ctx, entry); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "wallet line already recorded")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append wallet transaction")
	}
	return nil
}

package escrow

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/escrow-ledger/internal/ledger"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
)

const (
	defaultStatementLimit = 50
	maxStatementLimit     = 200
)

func (s *service) GetEscrowAccountDetails(ctx context.Context, contractID, actorID uuid.UUID) (*AccountDetailsDTO, error) {
	ctx = s.logg.WithContractID(ctx, contractID.String())
	contract, err := s.loadContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !contract.IsParty(actorID) {
		return nil, forbidden("only contract parties can view escrow")
	}
	account, err := s.loadActiveAccount(ctx, contractID)
	if err != nil {
		return nil, err
	}

	if s.refreshOnRead {
		// A stale mirror is still a valid answer; the refresh is best effort.
		if _, err := s.refresh(ctx, account.ID, account.ExternalID); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "escrow.details.refresh_failed")
		} else {
			if account, err = s.repo.FindVirtualAccount(ctx, account.ID); err != nil {
				return nil, lookupError(err, "escrow account not found")
			}
			if contract, err = s.loadContract(ctx, contractID); err != nil {
				return nil, err
			}
		}
	}

	ms, err := s.repo.ListMilestones(ctx, contract.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list milestones")
	}
	details := &AccountDetailsDTO{
		Account:      s.accountDTO(account),
		ContractID:   contract.ID,
		Status:       contract.Status,
		TotalValue:   newMoney(contract.TotalValue, s.currency),
		EscrowFunded: contract.EscrowFunded,
		EscrowAmount: newMoney(contract.EscrowAmount, s.currency),
		Milestones:   make([]MilestoneDTO, 0, len(ms)),
	}
	for i := range ms {
		details.Milestones = append(details.Milestones, s.milestoneDTO(&ms[i]))
	}
	return details, nil
}

func (s *service) ListContractTransactions(ctx context.Context, contractID, actorID uuid.UUID) ([]TransactionDTO, error) {
	contract, err := s.loadContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !contract.IsParty(actorID) {
		return nil, forbidden("only contract parties can view escrow transactions")
	}
	account, err := s.loadActiveAccount(ctx, contractID)
	if err != nil {
		return nil, err
	}
	txns, err := s.repo.ListTransactionsByAccount(ctx, account.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list escrow transactions")
	}
	out := make([]TransactionDTO, 0, len(txns))
	for i := range txns {
		out = append(out, s.transactionDTO(&txns[i]))
	}
	return out, nil
}

func (s *service) GetUserEscrowAccounts(ctx context.Context, userID uuid.UUID) ([]AccountDTO, error) {
	accounts, err := s.repo.ListVirtualAccountsByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list escrow accounts")
	}
	out := make([]AccountDTO, 0, len(accounts))
	for i := range accounts {
		out = append(out, s.accountDTO(&accounts[i]))
	}
	return out, nil
}

func (s *service) GetTransactionDetails(ctx context.Context, transactionID, actorID uuid.UUID) (*TransactionDTO, error) {
	txn, err := s.repo.FindTransaction(ctx, transactionID)
	if err != nil {
		return nil, lookupError(err, "transaction not found")
	}
	account, err := s.repo.FindVirtualAccount(ctx, txn.VirtualAccountID)
	if err != nil {
		return nil, lookupError(err, "escrow account not found")
	}
	if !account.IsParty(actorID) {
		return nil, forbidden("only contract parties can view this transaction")
	}
	dto := s.transactionDTO(txn)
	return &dto, nil
}

func (s *service) GetWalletStatement(ctx context.Context, userID uuid.UUID, limit int) (*WalletStatementDTO, error) {
	if limit <= 0 {
		limit = defaultStatementLimit
	}
	if limit > maxStatementLimit {
		limit = maxStatementLimit
	}
	balance, err := s.repo.WalletBalance(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "wallet balance")
	}
	lines, err := s.repo.ListWalletTransactions(ctx, userID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list wallet transactions")
	}
	statement := &WalletStatementDTO{
		UserID:  userID,
		Balance: newMoney(balance, s.currency),
		Lines:   make([]WalletLineDTO, 0, len(lines)),
	}
	for _, line := range lines {
		statement.Lines = append(statement.Lines, WalletLineDTO{
			ID:                  line.ID,
			EscrowTransactionID: line.EscrowTransactionID,
			Direction:           line.Direction,
			Amount:              newMoney(line.Amount, s.currency),
			BalanceAfter:        newMoney(line.BalanceAfter, s.currency),
			Description:         line.Description,
			CreatedAt:           line.CreatedAt,
		})
	}
	return statement, nil
}

func (s *service) DisputeMilestone(ctx context.Context, milestoneID, actorID uuid.UUID, reason string) (*MilestoneDTO, error) {
	milestone, err := s.ledger.DisputeMilestone(ctx, milestoneID, actorID, reason)
	if err != nil {
		return nil, err
	}
	dto := s.milestoneDTO(milestone)
	return &dto, nil
}

func (s *service) ResolveDispute(ctx context.Context, milestoneID, actorID uuid.UUID) (*MilestoneDTO, error) {
	milestone, err := s.ledger.ResolveDispute(ctx, milestoneID, actorID)
	if err != nil {
		return nil, err
	}
	dto := s.milestoneDTO(milestone)
	return &dto, nil
}

// RefreshBalance ingests captured gateway payments the ledger has not seen
// and corrects drift between the stored and derived balance.
func (s *service) RefreshBalance(ctx context.Context, virtualAccountID uuid.UUID) (*ledger.BalanceCheck, error) {
	account, err := s.repo.FindVirtualAccount(ctx, virtualAccountID)
	if err != nil {
		return nil, lookupError(err, "escrow account not found")
	}
	return s.refresh(ctx, account.ID, account.ExternalID)
}

func (s *service) refresh(ctx context.Context, accountID uuid.UUID, externalID string) (*ledger.BalanceCheck, error) {
	payments, err := s.gateway.GetAccountPayments(ctx, externalID)
	if err != nil {
		return nil, err
	}

	var errs error
	ingested := 0
	for _, payment := range payments {
		status, err := payment.PaymentStatus()
		if err != nil || status != enums.PaymentStatusCaptured || payment.Amount <= 0 {
			continue
		}
		result, err := s.ledger.CreditFunding(ctx, ledger.FundingInput{
			VirtualAccountID:  accountID,
			PaymentExternalID: payment.ID,
			Amount:            payment.Amount,
			Method:            payment.Method,
			PayerReference:    payment.Reference,
			CapturedAt:        paymentTime(payment.CreatedAt),
			Source:            ledger.SourceRefresh,
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !result.Duplicate {
			ingested++
		}
	}
	if ingested > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"virtual_account_id": accountID.String(),
			"ingested":           ingested,
		}), "escrow.refresh.payments_ingested")
	}

	check, err := s.ledger.ReconcileBalance(ctx, accountID)
	if err != nil {
		return nil, multierr.Append(errs, err)
	}
	return check, errs
}

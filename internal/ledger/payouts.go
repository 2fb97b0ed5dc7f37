package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/internal/milestones"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox/payloads"
)

// NotePayoutFailedAfterRelease is recorded when the gateway fails a payout the
// ledger had already completed.
const NotePayoutFailedAfterRelease = "payout failed after release; ledger left completed for review"

// PayoutInput describes a gateway payout as seen by the request path or a webhook.
type PayoutInput struct {
	ExternalID            string
	Reference             string
	VirtualAccountID      uuid.UUID
	FundAccountExternalID string
	MilestoneID           *uuid.UUID
	Purpose               string
	Amount                int64
	Status                enums.PayoutStatus
	UTR                   *string
	FailureReason         *string
	ReceiverID            *uuid.UUID
	Description           string
	ActorID               uuid.UUID
}

// PayoutOutcome is the ledger state after a payout command.
type PayoutOutcome struct {
	Account           *models.VirtualAccount
	Payout            *models.Payout
	Transaction       *models.EscrowTransaction
	Milestone         *models.Milestone
	Duplicate         bool
	ContractCompleted bool
	Note              string
}

func (in PayoutInput) transactionType() enums.EscrowTransactionType {
	if in.Purpose == models.PayoutPurposeRefund {
		return enums.EscrowTxnRefund
	}
	return enums.EscrowTxnPaymentRelease
}

func (in PayoutInput) validate() error {
	if strings.TrimSpace(in.ExternalID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payout id is required")
	}
	if in.VirtualAccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "virtual account is required")
	}
	if in.Amount < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	return nil
}

func (s *service) ClaimRelease(ctx context.Context, milestoneID uuid.UUID, reference string, ttl time.Duration) (*models.Milestone, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "release reference is required")
	}
	now := s.now()
	claimed, err := s.repo.ClaimMilestoneRelease(ctx, milestoneID, reference, now, now.Add(-ttl))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim milestone release")
	}
	milestone, err := s.repo.FindMilestone(ctx, milestoneID)
	if err != nil {
		return nil, notFound(err, pkgerrors.CodeNotFound, "milestone not found")
	}
	if claimed {
		return milestone, nil
	}
	if err := milestones.CheckReleasable(milestone); err != nil {
		return nil, err
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "milestone release already in progress").
		WithDetails(map[string]any{"milestone_id": milestoneID})
}

func (s *service) ReleaseClaim(ctx context.Context, milestoneID uuid.UUID, reference string) error {
	if err := s.repo.ClearMilestoneClaim(ctx, milestoneID, reference); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear milestone claim")
	}
	return nil
}

// RecordPendingPayout stores an initiated payout and a pending escrow
// transaction. Balances do not move.
func (s *service) RecordPendingPayout(ctx context.Context, input PayoutInput) (*PayoutOutcome, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.Status == "" {
		input.Status = enums.PayoutStatusPending
	}

	outcome := &PayoutOutcome{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := s.lockAccount(ctx, repo, input.VirtualAccountID, "")
		if err != nil {
			return err
		}
		outcome.Account = account

		payout, err := s.preparePayout(ctx, repo, account, &input)
		if err != nil {
			return err
		}
		outcome.Payout = payout

		txn, err := repo.FindTransactionByExternalID(ctx, payout.ExternalID)
		if err == nil {
			outcome.Transaction = txn
			outcome.Duplicate = true
			return nil
		}
		if !isNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payout transaction")
		}
		if input.Amount <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
		}
		txn = s.newPayoutTransaction(account, payout, input)
		txn.Status = enums.EscrowTxnStatusPending
		if err := repo.SaveTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record pending payout transaction")
		}
		outcome.Transaction = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// SettlePayout completes the escrow transaction of a payout, debiting the
// account and moving the milestone. Completing an already completed
// transaction is a no-op reported as Duplicate.
func (s *service) SettlePayout(ctx context.Context, input PayoutInput) (*PayoutOutcome, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.Status == "" {
		input.Status = enums.PayoutStatusProcessed
	}

	outcome := &PayoutOutcome{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := s.lockAccount(ctx, repo, input.VirtualAccountID, "")
		if err != nil {
			return err
		}
		outcome.Account = account

		payout, err := s.preparePayout(ctx, repo, account, &input)
		if err != nil {
			return err
		}
		outcome.Payout = payout

		txn, err := repo.FindTransactionByExternalID(ctx, payout.ExternalID)
		switch {
		case err == nil && txn.TransactionType != input.transactionType():
			return pkgerrors.New(pkgerrors.CodeConflict, "external id already used by another transaction type").
				WithDetails(map[string]any{"external_id": payout.ExternalID})
		case err == nil && txn.Status == enums.EscrowTxnStatusCompleted:
			outcome.Transaction = txn
			outcome.Duplicate = true
			if err := s.closeReservation(ctx, repo, payout.Reference, payout.ExternalID, enums.ReservationSettled); err != nil {
				return err
			}
			if payout.MilestoneID != nil {
				if err := repo.ClearMilestoneClaim(ctx, *payout.MilestoneID, payout.Reference); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear milestone claim")
				}
			}
			return nil
		case err == nil && txn.Status == enums.EscrowTxnStatusFailed:
			return pkgerrors.New(pkgerrors.CodeInvalidState, "payout transaction already failed").
				WithDetails(map[string]any{"external_id": payout.ExternalID})
		case err == nil:
		case isNotFound(err):
			if input.Amount <= 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
			}
			txn = s.newPayoutTransaction(account, payout, input)
		default:
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payout transaction")
		}

		if account.Balance < txn.Amount {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient escrow balance").
				WithDetails(map[string]any{"balance": account.Balance, "amount": txn.Amount})
		}

		now := s.now()
		txn.Status = enums.EscrowTxnStatusCompleted
		txn.CompletedAt = &now
		txn.FailureReason = nil
		if err := repo.SaveTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete payout transaction")
		}
		outcome.Transaction = txn

		account.Balance -= txn.Amount
		if err := repo.UpdateVirtualAccountBalance(ctx, account.ID, account.Balance); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update balance")
		}
		if err := s.closeReservation(ctx, repo, payout.Reference, payout.ExternalID, enums.ReservationSettled); err != nil {
			return err
		}

		if payout.MilestoneID != nil {
			milestone, completed, err := s.settleMilestone(ctx, repo, account, payout, txn, now)
			if err != nil {
				return err
			}
			outcome.Milestone = milestone
			outcome.ContractCompleted = completed
		}

		contract, err := repo.FindContract(ctx, account.ContractID)
		if err != nil {
			return notFound(err, pkgerrors.CodeContractNotFound, "contract not found")
		}

		if txn.TransactionType == enums.EscrowTxnRefund {
			if err := s.appendWallet(ctx, repo, derefOr(txn.ReceiverID, account.BuyerID), txn, enums.WalletCredit, "Escrow refund"); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventRefundProcessed,
				AggregateType: enums.AggregateVirtualAccount,
				AggregateID:   account.ID,
				Actor:         actorRef(contract, input.ActorID),
				Data: payloads.RefundProcessedEvent{
					VirtualAccountID: account.ID,
					ContractID:       account.ContractID,
					MilestoneID:      payout.MilestoneID,
					TransactionID:    txn.ID,
					PayoutExternalID: payout.ExternalID,
					BuyerID:          derefOr(txn.ReceiverID, account.BuyerID),
					Amount:           txn.Amount,
					BalanceAfter:     account.Balance,
					Reason:           txn.Description,
				},
			})
		}

		if err := s.appendWallet(ctx, repo, derefOr(txn.ReceiverID, account.SellerID), txn, enums.WalletCredit, "Milestone payment"); err != nil {
			return err
		}
		if payout.MilestoneID == nil {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventMilestoneReleased,
			AggregateType: enums.AggregateMilestone,
			AggregateID:   *payout.MilestoneID,
			Actor:         actorRef(contract, input.ActorID),
			Data: payloads.MilestoneReleasedEvent{
				MilestoneID:       *payout.MilestoneID,
				ContractID:        account.ContractID,
				VirtualAccountID:  account.ID,
				TransactionID:     txn.ID,
				PayoutExternalID:  payout.ExternalID,
				SellerID:          derefOr(txn.ReceiverID, account.SellerID),
				Amount:            txn.Amount,
				BalanceAfter:      account.Balance,
				ContractCompleted: outcome.ContractCompleted,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// FailPayout records a failed or reversed payout. A pending transaction is
// failed and the milestone claim released. A transaction that already
// completed stays completed; the failure is surfaced for manual review.
func (s *service) FailPayout(ctx context.Context, input PayoutInput) (*PayoutOutcome, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if !input.Status.IsFailure() {
		input.Status = enums.PayoutStatusFailed
	}

	outcome := &PayoutOutcome{}
	afterRelease := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := s.lockAccount(ctx, repo, input.VirtualAccountID, "")
		if err != nil {
			return err
		}
		outcome.Account = account

		payout, err := s.preparePayout(ctx, repo, account, &input)
		if err != nil {
			return err
		}
		outcome.Payout = payout

		reason := "payout " + string(input.Status)
		if input.FailureReason != nil && *input.FailureReason != "" {
			reason = *input.FailureReason
		}

		txn, err := repo.FindTransactionByExternalID(ctx, payout.ExternalID)
		switch {
		case err == nil && txn.Status == enums.EscrowTxnStatusFailed:
			outcome.Transaction = txn
			outcome.Duplicate = true
			return nil
		case err == nil && txn.Status == enums.EscrowTxnStatusCompleted:
			outcome.Transaction = txn
			outcome.Note = NotePayoutFailedAfterRelease
			afterRelease = true
		case err == nil:
			txn.Status = enums.EscrowTxnStatusFailed
			txn.FailureReason = &reason
			if err := repo.SaveTransaction(ctx, txn); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fail payout transaction")
			}
			outcome.Transaction = txn
		case isNotFound(err):
			txn = s.newPayoutTransaction(account, payout, input)
			txn.Status = enums.EscrowTxnStatusFailed
			txn.FailureReason = &reason
			if err := repo.SaveTransaction(ctx, txn); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record failed payout transaction")
			}
			outcome.Transaction = txn
		default:
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payout transaction")
		}

		if err := s.closeReservation(ctx, repo, payout.Reference, payout.ExternalID, enums.ReservationReleased); err != nil {
			return err
		}
		if payout.MilestoneID != nil {
			if err := repo.ClearMilestoneClaim(ctx, *payout.MilestoneID, payout.Reference); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear milestone claim")
			}
		}

		emit := s.outbox.Emit
		eventType := enums.EventPayoutFailed
		if afterRelease {
			emit = s.outbox.EmitIfNotExists
			eventType = enums.EventPayoutFailedAfterRelease
		}
		return emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Actor:         &outbox.ActorRef{Role: outbox.RoleGateway},
			Data: payloads.PayoutFailedEvent{
				PayoutExternalID: payout.ExternalID,
				Reference:        payout.Reference,
				VirtualAccountID: account.ID,
				MilestoneID:      payout.MilestoneID,
				Purpose:          payout.Purpose,
				Amount:           payout.Amount,
				Status:           string(payout.Status),
				FailureReason:    reason,
				AfterRelease:     afterRelease,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if afterRelease {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"payout_id":          input.ExternalID,
			"virtual_account_id": input.VirtualAccountID.String(),
			"transaction_id":     outcome.Transaction.ID.String(),
		}), "payout failed after ledger release")
	}
	return outcome, nil
}

// preparePayout upserts the payout row. Terminal statuses only move from
// processed to a failure; a late non-terminal update never regresses a row.
func (s *service) preparePayout(ctx context.Context, repo Repository, account *models.VirtualAccount, input *PayoutInput) (*models.Payout, error) {
	payout, err := repo.FindPayoutByExternalID(ctx, input.ExternalID)
	switch {
	case err == nil:
		if payout.VirtualAccountID != account.ID {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payout belongs to another account").
				WithDetails(map[string]any{"payout_id": input.ExternalID})
		}
	case isNotFound(err):
		if input.Amount <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
		}
		purpose := input.Purpose
		if purpose == "" {
			purpose = models.PayoutPurposeRelease
		}
		reference := input.Reference
		if reference == "" {
			reference = input.ExternalID
		}
		payout = &models.Payout{
			ExternalID:            input.ExternalID,
			Reference:             reference,
			VirtualAccountID:      account.ID,
			FundAccountExternalID: input.FundAccountExternalID,
			Amount:                input.Amount,
			Purpose:               purpose,
		}
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payout")
	}

	if payout.MilestoneID == nil && input.MilestoneID != nil {
		payout.MilestoneID = input.MilestoneID
	}
	payout.Status = mergePayoutStatus(payout.Status, input.Status)
	if input.UTR != nil && *input.UTR != "" {
		payout.UTR = input.UTR
	}
	if input.FailureReason != nil && *input.FailureReason != "" {
		payout.FailureReason = input.FailureReason
	}
	if err := repo.SavePayout(ctx, payout); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save payout")
	}

	// Later steps work from the stored row so replays without notes still
	// reach the milestone and amount recorded first.
	input.MilestoneID = payout.MilestoneID
	input.Purpose = payout.Purpose
	if input.Amount <= 0 {
		input.Amount = payout.Amount
	}
	return payout, nil
}

func mergePayoutStatus(current, next enums.PayoutStatus) enums.PayoutStatus {
	switch {
	case next == "":
		return current
	case current == "" || !current.IsTerminal():
		return next
	case current == enums.PayoutStatusProcessed && next.IsFailure():
		return next
	default:
		return current
	}
}

func (s *service) newPayoutTransaction(account *models.VirtualAccount, payout *models.Payout, input PayoutInput) *models.EscrowTransaction {
	txnType := input.transactionType()
	receiverType := enums.PartySeller
	receiverID := account.SellerID
	description := "Milestone payment"
	if txnType == enums.EscrowTxnRefund {
		receiverType = enums.PartyBuyer
		receiverID = account.BuyerID
		description = "Escrow refund"
	}
	if input.ReceiverID != nil && *input.ReceiverID != uuid.Nil {
		receiverID = *input.ReceiverID
	}
	if d := strings.TrimSpace(input.Description); d != "" {
		description = d
	}
	return &models.EscrowTransaction{
		ExternalID:       payout.ExternalID,
		VirtualAccountID: account.ID,
		ContractID:       account.ContractID,
		MilestoneID:      payout.MilestoneID,
		TransactionType:  txnType,
		Amount:           input.Amount,
		SenderType:       enums.PartyEscrow,
		SenderID:         uuidPtr(account.ID),
		ReceiverType:     receiverType,
		ReceiverID:       uuidPtr(receiverID),
		Description:      description,
	}
}

// settleMilestone moves the milestone of a completed payout and completes the
// contract once every milestone is paid.
func (s *service) settleMilestone(ctx context.Context, repo Repository, account *models.VirtualAccount, payout *models.Payout, txn *models.EscrowTransaction, now time.Time) (*models.Milestone, bool, error) {
	milestone, err := repo.LockMilestone(ctx, *payout.MilestoneID)
	if err != nil {
		return nil, false, notFound(err, pkgerrors.CodeNotFound, "milestone not found")
	}
	if milestone.ContractID != account.ContractID {
		return nil, false, pkgerrors.New(pkgerrors.CodeConflict, "milestone belongs to another contract").
			WithDetails(map[string]any{"milestone_id": milestone.ID})
	}

	if txn.TransactionType == enums.EscrowTxnRefund {
		if err := milestones.MarkRefunded(milestone, now); err != nil {
			return nil, false, err
		}
		milestones.ClearClaim(milestone)
	} else if err := milestones.MarkPaid(milestone, payout.ExternalID, now); err != nil {
		return nil, false, err
	}
	if err := repo.SaveMilestone(ctx, milestone); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update milestone")
	}
	if txn.TransactionType == enums.EscrowTxnRefund {
		return milestone, false, nil
	}

	all, err := repo.ListMilestones(ctx, account.ContractID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list milestones")
	}
	if !milestones.AllPaid(all) {
		return milestone, false, nil
	}
	contract, err := repo.LockContract(ctx, account.ContractID)
	if err != nil {
		return nil, false, notFound(err, pkgerrors.CodeContractNotFound, "contract not found")
	}
	contract.Status = enums.ContractStatusCompleted
	if err := repo.SaveContract(ctx, contract); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete contract")
	}
	return milestone, true, nil
}

func derefOr(id *uuid.UUID, fallback uuid.UUID) uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return fallback
	}
	return *id
}

package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/internal/ledger"
	"github.com/angelmondragon/escrow-ledger/internal/milestones"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/gateway"
)

// ReleaseInput pays a milestone to the seller. Amount defaults to the
// milestone amount; Reference defaults to a fresh id and doubles as the
// gateway idempotency key, so callers retrying a release should reuse it.
type ReleaseInput struct {
	MilestoneID uuid.UUID
	Amount      *int64
	Reference   string
	ActorID     uuid.UUID
}

// RefundInput returns escrowed funds to the buyer, optionally closing a milestone.
type RefundInput struct {
	VirtualAccountID uuid.UUID
	Amount           int64
	Reason           string
	MilestoneID      *uuid.UUID
	Reference        string
	ActorID          uuid.UUID
}

// payoutPlan is a validated payout ready for the gateway.
type payoutPlan struct {
	account     *models.VirtualAccount
	contract    *models.Contract
	milestone   *models.Milestone
	fundAccount *models.FundAccount
	receiverID  uuid.UUID
	amount      int64
	reference   string
	purpose     string
	narration   string
	actorID     uuid.UUID
}

func (s *service) ReleaseMilestonePayment(ctx context.Context, input ReleaseInput) (*PayoutDTO, error) {
	milestone, err := s.repo.FindMilestone(ctx, input.MilestoneID)
	if err != nil {
		return nil, lookupError(err, "milestone not found")
	}
	ctx = s.logg.WithContractID(ctx, milestone.ContractID.String())
	contract, err := s.loadContract(ctx, milestone.ContractID)
	if err != nil {
		return nil, err
	}
	if err := requireBuyer(contract.BuyerID, input.ActorID, "release milestone payments"); err != nil {
		return nil, err
	}
	if err := milestones.CheckReleasable(milestone); err != nil {
		return nil, err
	}

	amount := milestone.Amount
	if input.Amount != nil {
		if *input.Amount <= 0 || *input.Amount > milestone.Amount {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive and not exceed the milestone amount").
				WithDetails(map[string]any{"milestone_amount": milestone.Amount})
		}
		amount = *input.Amount
	}
	if !contract.EscrowFunded {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "escrow is not funded")
	}
	account, err := s.loadActiveAccount(ctx, contract.ID)
	if err != nil {
		return nil, err
	}
	if account.Balance < amount {
		return nil, insufficient(account, amount)
	}
	fundAccount, err := s.activeFundAccount(ctx, contract.SellerID, "seller")
	if err != nil {
		return nil, err
	}

	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		reference = s.newReference("rel")
	}
	return s.executePayout(ctx, payoutPlan{
		account:     account,
		contract:    contract,
		milestone:   milestone,
		fundAccount: fundAccount,
		receiverID:  contract.SellerID,
		amount:      amount,
		reference:   reference,
		purpose:     models.PayoutPurposeRelease,
		narration:   fmt.Sprintf("Milestone %d payment", milestone.MilestoneNumber),
		actorID:     input.ActorID,
	})
}

func (s *service) ProcessRefund(ctx context.Context, input RefundInput) (*PayoutDTO, error) {
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	account, err := s.repo.FindVirtualAccount(ctx, input.VirtualAccountID)
	if err != nil {
		return nil, lookupError(err, "escrow account not found")
	}
	ctx = s.logg.WithContractID(ctx, account.ContractID.String())
	if err := requireBuyer(account.BuyerID, input.ActorID, "request refunds"); err != nil {
		return nil, err
	}
	if account.Status != enums.VirtualAccountStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "escrow account is not active")
	}
	contract, err := s.loadContract(ctx, account.ContractID)
	if err != nil {
		return nil, err
	}

	var milestone *models.Milestone
	if input.MilestoneID != nil {
		milestone, err = s.repo.FindMilestone(ctx, *input.MilestoneID)
		if err != nil {
			return nil, lookupError(err, "milestone not found")
		}
		if milestone.ContractID != account.ContractID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "milestone does not belong to this escrow account")
		}
		if _, err := milestones.Next(milestone.Status, milestones.ActionRefund); err != nil {
			return nil, err
		}
	}
	if account.Balance < input.Amount {
		return nil, insufficient(account, input.Amount)
	}
	fundAccount, err := s.activeFundAccount(ctx, account.BuyerID, "buyer")
	if err != nil {
		return nil, err
	}

	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		reference = s.newReference("rfd")
	}
	narration := "Escrow refund"
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		narration = reason
	}
	return s.executePayout(ctx, payoutPlan{
		account:     account,
		contract:    contract,
		milestone:   milestone,
		fundAccount: fundAccount,
		receiverID:  account.BuyerID,
		amount:      input.Amount,
		reference:   reference,
		purpose:     models.PayoutPurposeRefund,
		narration:   narration,
		actorID:     input.ActorID,
	})
}

// executePayout claims the milestone when there is one, holds the amount,
// sends the payout and commits the ledger. A gateway error drops the hold and
// the claim and leaves balances untouched; a payout the gateway rejected
// outright is recorded as failed.
func (s *service) executePayout(ctx context.Context, plan payoutPlan) (*PayoutDTO, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"virtual_account_id": plan.account.ID.String(),
		"reference":          plan.reference,
		"purpose":            plan.purpose,
		"amount":             plan.amount,
	})

	var milestoneID *uuid.UUID
	if plan.milestone != nil {
		id := plan.milestone.ID
		milestoneID = &id
		ctx = s.logg.WithField(ctx, "milestone_id", id.String())
		if _, err := s.ledger.ClaimRelease(ctx, id, plan.reference, s.claimTTL); err != nil {
			return nil, err
		}
	}
	releaseClaim := func() {
		if milestoneID == nil {
			return
		}
		if err := s.ledger.ReleaseClaim(ctx, *milestoneID, plan.reference); err != nil {
			s.logg.Error(ctx, "escrow.payout.release_claim_failed", err)
		}
	}

	// The hold is the authoritative balance check; the caller's read was unlocked.
	if _, err := s.ledger.ReservePayout(ctx, ledger.ReserveInput{
		VirtualAccountID: plan.account.ID,
		Reference:        plan.reference,
		MilestoneID:      milestoneID,
		Purpose:          plan.purpose,
		Amount:           plan.amount,
		StaleAfter:       s.claimTTL,
	}); err != nil {
		releaseClaim()
		return nil, err
	}

	notes := map[string]string{
		gateway.NoteContractID:       plan.contract.ID.String(),
		gateway.NoteVirtualAccountID: plan.account.ID.String(),
		gateway.NotePurpose:          plan.purpose,
		gateway.NoteReceiverID:       plan.receiverID.String(),
	}
	if milestoneID != nil {
		notes[gateway.NoteMilestoneID] = milestoneID.String()
	}
	result, err := s.gateway.CreatePayout(ctx, gateway.PayoutRequest{
		FundAccountExternalID: plan.fundAccount.ExternalID,
		Amount:                plan.amount,
		Reference:             plan.reference,
		Purpose:               plan.purpose,
		Narration:             plan.narration,
		Notes:                 notesFor(notes),
	})
	if err != nil {
		if relErr := s.ledger.ReleaseReservation(ctx, plan.reference); relErr != nil {
			s.logg.Error(ctx, "escrow.payout.release_reservation_failed", relErr)
		}
		releaseClaim()
		s.logg.Error(ctx, "escrow.payout.gateway_failed", err)
		return nil, err
	}
	ctx = s.logg.WithField(ctx, "payout_id", result.ID)

	status, err := result.PayoutStatus()
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "gateway_status", result.Status), "escrow.payout.unknown_status")
		status = enums.PayoutStatusProcessing
	}
	payout := ledger.PayoutInput{
		ExternalID:            result.ID,
		Reference:             plan.reference,
		VirtualAccountID:      plan.account.ID,
		FundAccountExternalID: plan.fundAccount.ExternalID,
		MilestoneID:           milestoneID,
		Purpose:               plan.purpose,
		Amount:                plan.amount,
		Status:                status,
		UTR:                   result.UTR,
		FailureReason:         result.FailureReason,
		ReceiverID:            &plan.receiverID,
		Description:           plan.narration,
		ActorID:               plan.actorID,
	}

	if status.IsFailure() {
		if _, err := s.ledger.FailPayout(ctx, payout); err != nil {
			s.logg.Error(ctx, "escrow.payout.record_failure_failed", err)
			if relErr := s.ledger.ReleaseReservation(ctx, plan.reference); relErr != nil {
				s.logg.Error(ctx, "escrow.payout.release_reservation_failed", relErr)
			}
			releaseClaim()
		}
		reason := ""
		if result.FailureReason != nil {
			reason = *result.FailureReason
		}
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "payout rejected by gateway").
			WithDetails(map[string]any{"payout_id": result.ID, "reason": reason})
	}

	outcome, err := s.ledger.SettlePayout(ctx, payout)
	if err != nil {
		// The gateway already accepted the payout; the webhook or the payout
		// reconcile job settles it from the notes.
		s.logg.Error(ctx, "escrow.payout.settle_failed", err)
		return nil, err
	}
	s.logg.Info(ctx, "escrow.payout.settled")

	dto := &PayoutDTO{
		PayoutID:     outcome.Payout.ExternalID,
		Reference:    outcome.Payout.Reference,
		PayoutStatus: outcome.Payout.Status,
		Transaction:  s.transactionDTO(outcome.Transaction),
		Balance:      newMoney(outcome.Account.Balance, s.currency),
	}
	if outcome.Milestone != nil {
		m := s.milestoneDTO(outcome.Milestone)
		dto.Milestone = &m
	}
	return dto, nil
}

func (s *service) activeFundAccount(ctx context.Context, userID uuid.UUID, role string) (*models.FundAccount, error) {
	account, err := s.repo.FindActiveFundAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNoFundAccount, role+" has no active fund account")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup fund account")
	}
	return account, nil
}

func insufficient(account *models.VirtualAccount, amount int64) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient escrow balance").
		WithDetails(map[string]any{"balance": account.Balance, "amount": amount})
}

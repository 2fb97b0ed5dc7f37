package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/internal/ledger"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/gateway"
)

// RegisterFundAccountInput registers the payout destination of a user.
type RegisterFundAccountInput struct {
	UserID uuid.UUID
	Name   string
	Email  string
	Spec   gateway.AccountSpec
}

func (s *service) CreateEscrowAccount(ctx context.Context, contractID, actorID uuid.UUID) (*AccountDTO, error) {
	ctx = s.logg.WithContractID(ctx, contractID.String())
	contract, err := s.loadContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !contract.IsParty(actorID) {
		return nil, forbidden("only contract parties can open escrow")
	}
	if _, err := s.repo.FindActiveVirtualAccountByContract(ctx, contractID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyExists, "contract already has an active escrow account")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup escrow account")
	}

	name := fmt.Sprintf("Escrow %s", contract.Title)
	if strings.TrimSpace(contract.Title) == "" {
		name = fmt.Sprintf("Escrow %s", contract.ID)
	}
	description := fmt.Sprintf("Escrow account for contract %s", contract.ID)
	ref, err := s.gateway.CreateVirtualAccount(ctx, gateway.VirtualAccountRequest{
		Name:        name,
		Description: description,
		ContractID:  contract.ID.String(),
		BuyerID:     contract.BuyerID.String(),
		SellerID:    contract.SellerID.String(),
		Notes: notesFor(map[string]string{
			gateway.NoteContractID: contract.ID.String(),
			gateway.NoteBuyerID:    contract.BuyerID.String(),
			gateway.NoteSellerID:   contract.SellerID.String(),
		}),
	})
	if err != nil {
		s.logg.Error(ctx, "escrow.create_account.gateway_failed", err)
		return nil, err
	}

	account, err := s.ledger.CreateVirtualAccount(ctx, ledger.CreateVirtualAccountInput{
		ContractID:  contract.ID,
		ExternalID:  ref.ID,
		Name:        name,
		Description: description,
		ActorID:     actorID,
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "external_account_id", ref.ID), "escrow.create_account.persist_failed", err)
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "virtual_account_id", account.ID.String()), "escrow.account_created")
	dto := s.accountDTO(account)
	return &dto, nil
}

func (s *service) FundEscrowAccount(ctx context.Context, contractID uuid.UUID, amount int64, buyerID uuid.UUID) (*FundingDTO, error) {
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	ctx = s.logg.WithContractID(ctx, contractID.String())
	contract, err := s.loadContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := requireBuyer(contract.BuyerID, buyerID, "fund escrow"); err != nil {
		return nil, err
	}
	if !contract.HasEscrow {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "contract has no escrow account")
	}
	account, err := s.loadActiveAccount(ctx, contractID)
	if err != nil {
		return nil, err
	}

	payment, err := s.gateway.InitiateFunding(ctx, gateway.FundingRequest{
		AccountExternalID: account.ExternalID,
		Amount:            amount,
		Reference:         s.newReference("fund"),
		Notes: notesFor(map[string]string{
			gateway.NoteContractID:       contract.ID.String(),
			gateway.NoteVirtualAccountID: account.ID.String(),
			gateway.NoteBuyerID:          buyerID.String(),
		}),
	})
	if err != nil {
		s.logg.Error(ctx, "escrow.fund.gateway_failed", err)
		return nil, err
	}
	status, err := payment.PaymentStatus()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "unexpected gateway payment status")
	}

	if status != enums.PaymentStatusCaptured {
		if _, err := s.ledger.UpsertPayment(ctx, ledger.PaymentInput{
			AccountExternalID: account.ExternalID,
			PaymentExternalID: payment.ID,
			Amount:            payment.Amount,
			Status:            status,
			Method:            payment.Method,
			PayerReference:    payment.Reference,
		}); err != nil {
			return nil, err
		}
		if status == enums.PaymentStatusFailed {
			return nil, pkgerrors.New(pkgerrors.CodeGateway, "funding payment failed").
				WithDetails(map[string]any{"payment_id": payment.ID})
		}
		return &FundingDTO{
			PaymentID:     payment.ID,
			PaymentStatus: status,
			Balance:       newMoney(account.Balance, s.currency),
		}, nil
	}

	result, err := s.ledger.CreditFunding(ctx, ledger.FundingInput{
		VirtualAccountID:  account.ID,
		PaymentExternalID: payment.ID,
		Amount:            payment.Amount,
		Method:            payment.Method,
		PayerReference:    payment.Reference,
		CapturedAt:        paymentTime(payment.CreatedAt),
		ActorID:           buyerID,
		Source:            ledger.SourceOrchestrator,
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "payment_id", payment.ID), "escrow.fund.credit_failed", err)
		return nil, err
	}
	txn := s.transactionDTO(result.Transaction)
	return &FundingDTO{
		PaymentID:     payment.ID,
		PaymentStatus: status,
		Transaction:   &txn,
		Balance:       newMoney(result.Account.Balance, s.currency),
		Duplicate:     result.Duplicate,
	}, nil
}

func (s *service) RegisterFundAccount(ctx context.Context, input RegisterFundAccountInput) (*FundAccountDTO, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user is required")
	}
	accountType, err := input.Spec.Type()
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, input.UserID.String())

	contact, err := s.repo.FindContactByUser(ctx, input.UserID)
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		if strings.TrimSpace(input.Name) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required for a new payout contact")
		}
		ref, err := s.gateway.CreateContact(ctx, gateway.ContactRequest{
			Name:        input.Name,
			Email:       input.Email,
			Type:        "vendor",
			ReferenceID: input.UserID.String(),
		})
		if err != nil {
			s.logg.Error(ctx, "escrow.fund_account.contact_failed", err)
			return nil, err
		}
		var email *string
		if input.Email != "" {
			email = &input.Email
		}
		contact, err = s.ledger.SaveContact(ctx, &models.GatewayContact{
			UserID:     input.UserID,
			ExternalID: ref.ID,
			Name:       input.Name,
			Email:      email,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup gateway contact")
	}

	ref, err := s.gateway.CreateFundAccount(ctx, contact.ExternalID, input.Spec)
	if err != nil {
		s.logg.Error(ctx, "escrow.fund_account.gateway_failed", err)
		return nil, err
	}
	account, err := s.ledger.SaveFundAccount(ctx, &models.FundAccount{
		UserID:            input.UserID,
		ContactExternalID: contact.ExternalID,
		ExternalID:        ref.ID,
		AccountType:       accountType,
		MaskedDetails:     input.Spec.Masked(),
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "fund_account_id", account.ExternalID), "escrow.fund_account_registered")
	dto := s.fundAccountDTO(account)
	return &dto, nil
}

func paymentTime(unix int64) *time.Time {
	if unix <= 0 {
		return nil
	}
	at := time.Unix(unix, 0).UTC()
	return &at
}

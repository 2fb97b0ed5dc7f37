package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox/payloads"
)

// Funding sources recorded on escrow_funded events.
const (
	SourceOrchestrator = "orchestrator"
	SourceWebhook      = "webhook"
	SourceRefresh      = "balance_refresh"
)

// FundingInput credits a captured buyer payment. Either VirtualAccountID or
// AccountExternalID identifies the account.
type FundingInput struct {
	VirtualAccountID  uuid.UUID
	AccountExternalID string
	PaymentExternalID string
	Amount            int64
	Method            string
	PayerReference    string
	CapturedAt        *time.Time
	ActorID           uuid.UUID
	Source            string
}

// FundingResult reports the funding transaction. Duplicate is set when the
// payment had already been credited and nothing changed.
type FundingResult struct {
	Account     *models.VirtualAccount
	Transaction *models.EscrowTransaction
	Payment     *models.Payment
	Duplicate   bool
}

// PaymentInput upserts a payment row without touching balances.
type PaymentInput struct {
	AccountExternalID string
	PaymentExternalID string
	Amount            int64
	Status            enums.PaymentStatus
	Method            string
	PayerReference    string
}

func (s *service) CreditFunding(ctx context.Context, input FundingInput) (*FundingResult, error) {
	if strings.TrimSpace(input.PaymentExternalID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	result := &FundingResult{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := s.lockAccount(ctx, repo, input.VirtualAccountID, input.AccountExternalID)
		if err != nil {
			return err
		}
		result.Account = account

		now := s.now()
		capturedAt := now
		if input.CapturedAt != nil {
			capturedAt = input.CapturedAt.UTC()
		}
		payment, err := s.upsertPayment(ctx, repo, account, PaymentInput{
			PaymentExternalID: input.PaymentExternalID,
			Amount:            input.Amount,
			Status:            enums.PaymentStatusCaptured,
			Method:            input.Method,
			PayerReference:    input.PayerReference,
		}, &capturedAt)
		if err != nil {
			return err
		}
		result.Payment = payment

		txn, err := repo.FindTransactionByExternalID(ctx, input.PaymentExternalID)
		switch {
		case err == nil && txn.TransactionType != enums.EscrowTxnFunding:
			return pkgerrors.New(pkgerrors.CodeConflict, "external id already used by another transaction type").
				WithDetails(map[string]any{"external_id": input.PaymentExternalID})
		case err == nil && txn.Status == enums.EscrowTxnStatusCompleted:
			result.Transaction = txn
			result.Duplicate = true
			return nil
		case err == nil:
		case isNotFound(err):
			txn = &models.EscrowTransaction{
				ExternalID:       input.PaymentExternalID,
				VirtualAccountID: account.ID,
				ContractID:       account.ContractID,
				TransactionType:  enums.EscrowTxnFunding,
				Amount:           input.Amount,
				SenderType:       enums.PartyBuyer,
				SenderID:         uuidPtr(account.BuyerID),
				ReceiverType:     enums.PartyEscrow,
				ReceiverID:       uuidPtr(account.ID),
				Description:      "Escrow funding",
			}
		default:
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup funding transaction")
		}

		txn.Status = enums.EscrowTxnStatusCompleted
		txn.CompletedAt = &now
		txn.FailureReason = nil
		if err := repo.SaveTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record funding transaction")
		}
		result.Transaction = txn

		account.Balance += txn.Amount
		if err := repo.UpdateVirtualAccountBalance(ctx, account.ID, account.Balance); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update balance")
		}

		contract, err := repo.LockContract(ctx, account.ContractID)
		if err != nil {
			return notFound(err, pkgerrors.CodeContractNotFound, "contract not found")
		}
		contract.EscrowFunded = true
		contract.EscrowAmount += txn.Amount
		if err := repo.SaveContract(ctx, contract); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update contract escrow amount")
		}

		if err := s.appendWallet(ctx, repo, account.BuyerID, txn, enums.WalletDebit, "Escrow funding"); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowFunded,
			AggregateType: enums.AggregateVirtualAccount,
			AggregateID:   account.ID,
			Actor:         actorRef(contract, input.ActorID),
			Data: payloads.EscrowFundedEvent{
				VirtualAccountID:  account.ID,
				ContractID:        account.ContractID,
				TransactionID:     txn.ID,
				PaymentExternalID: txn.ExternalID,
				Amount:            txn.Amount,
				BalanceAfter:      account.Balance,
				Source:            input.Source,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Duplicate {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"payment_id":         input.PaymentExternalID,
			"virtual_account_id": result.Account.ID.String(),
		}), "funding already credited")
	}
	return result, nil
}

// UpsertPayment records authorized and failed payments. A captured payment is
// never downgraded.
func (s *service) UpsertPayment(ctx context.Context, input PaymentInput) (*models.Payment, error) {
	if strings.TrimSpace(input.PaymentExternalID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status").
			WithDetails(map[string]any{"status": input.Status})
	}

	var payment *models.Payment
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := s.lockAccount(ctx, repo, uuid.Nil, input.AccountExternalID)
		if err != nil {
			return err
		}
		payment, err = s.upsertPayment(ctx, repo, account, input, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *service) upsertPayment(ctx context.Context, repo Repository, account *models.VirtualAccount, input PaymentInput, capturedAt *time.Time) (*models.Payment, error) {
	payment, err := repo.FindPaymentByExternalID(ctx, input.PaymentExternalID)
	switch {
	case err == nil:
		if payment.VirtualAccountID != account.ID {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment belongs to another account").
				WithDetails(map[string]any{"payment_id": input.PaymentExternalID})
		}
		if payment.Status == enums.PaymentStatusCaptured {
			return payment, nil
		}
	case isNotFound(err):
		payment = &models.Payment{
			ExternalID:       input.PaymentExternalID,
			VirtualAccountID: account.ID,
		}
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payment")
	}

	if input.Amount > 0 {
		payment.Amount = input.Amount
	}
	payment.Status = input.Status
	if input.Method != "" {
		payment.Method = input.Method
	}
	if input.PayerReference != "" {
		payment.PayerReference = stringPtr(input.PayerReference)
	}
	if input.Status == enums.PaymentStatusCaptured && capturedAt != nil {
		payment.CapturedAt = capturedAt
	}
	if err := repo.SavePayment(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save payment")
	}
	return payment, nil
}

func (s *service) lockAccount(ctx context.Context, repo Repository, id uuid.UUID, externalID string) (*models.VirtualAccount, error) {
	if id == uuid.Nil {
		if strings.TrimSpace(externalID) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "virtual account is required")
		}
		account, err := repo.FindVirtualAccountByExternalID(ctx, externalID)
		if err != nil {
			return nil, notFound(err, pkgerrors.CodeNotFound, "virtual account not found")
		}
		id = account.ID
	}
	account, err := repo.LockVirtualAccount(ctx, id)
	if err != nil {
		return nil, notFound(err, pkgerrors.CodeNotFound, "virtual account not found")
	}
	return account, nil
}

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
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/gateway"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
)

const defaultReleaseClaimTTL = 2 * time.Minute

// Service is the user-facing escrow API. Every money movement calls the
// gateway first and commits locally only after the gateway accepted it.
type Service interface {
	CreateEscrowAccount(ctx context.Context, contractID, actorID uuid.UUID) (*AccountDTO, error)
	FundEscrowAccount(ctx context.Context, contractID uuid.UUID, amount int64, buyerID uuid.UUID) (*FundingDTO, error)
	ReleaseMilestonePayment(ctx context.Context, input ReleaseInput) (*PayoutDTO, error)
	ProcessRefund(ctx context.Context, input RefundInput) (*PayoutDTO, error)

	RegisterFundAccount(ctx context.Context, input RegisterFundAccountInput) (*FundAccountDTO, error)
	DisputeMilestone(ctx context.Context, milestoneID, actorID uuid.UUID, reason string) (*MilestoneDTO, error)
	ResolveDispute(ctx context.Context, milestoneID, actorID uuid.UUID) (*MilestoneDTO, error)

	GetEscrowAccountDetails(ctx context.Context, contractID, actorID uuid.UUID) (*AccountDetailsDTO, error)
	ListContractTransactions(ctx context.Context, contractID, actorID uuid.UUID) ([]TransactionDTO, error)
	GetUserEscrowAccounts(ctx context.Context, userID uuid.UUID) ([]AccountDTO, error)
	GetTransactionDetails(ctx context.Context, transactionID, actorID uuid.UUID) (*TransactionDTO, error)
	GetWalletStatement(ctx context.Context, userID uuid.UUID, limit int) (*WalletStatementDTO, error)

	RefreshBalance(ctx context.Context, virtualAccountID uuid.UUID) (*ledger.BalanceCheck, error)
}

type gatewayClient interface {
	Currency() string
	CreateContact(ctx context.Context, req gateway.ContactRequest) (*gateway.ContactRef, error)
	CreateFundAccount(ctx context.Context, contactID string, spec gateway.AccountSpec) (*gateway.FundAccountRef, error)
	CreateVirtualAccount(ctx context.Context, req gateway.VirtualAccountRequest) (*gateway.VirtualAccountRef, error)
	InitiateFunding(ctx context.Context, req gateway.FundingRequest) (*gateway.PaymentRef, error)
	CreatePayout(ctx context.Context, req gateway.PayoutRequest) (*gateway.PayoutResult, error)
	GetAccountPayments(ctx context.Context, accountExternalID string) ([]gateway.PaymentRef, error)
}

// ServiceParams wires the orchestrator dependencies.
type ServiceParams struct {
	Gateway              gatewayClient
	Ledger               ledger.Service
	Repository           ledger.Repository
	Logger               *logger.Logger
	ReleaseClaimTTL      time.Duration
	RefreshBalanceOnRead bool
}

type service struct {
	gateway       gatewayClient
	ledger        ledger.Service
	repo          ledger.Repository
	logg          *logger.Logger
	claimTTL      time.Duration
	refreshOnRead bool
	currency      string
	newReference  func(prefix string) string
}

// NewService builds the escrow orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.ReleaseClaimTTL
	if ttl <= 0 {
		ttl = defaultReleaseClaimTTL
	}
	return &service{
		gateway:       params.Gateway,
		ledger:        params.Ledger,
		repo:          params.Repository,
		logg:          params.Logger,
		claimTTL:      ttl,
		refreshOnRead: params.RefreshBalanceOnRead,
		currency:      params.Gateway.Currency(),
		newReference:  newReference,
	}, nil
}

// newReference returns a gateway reference id short enough for the payout API.
func newReference(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *service) loadContract(ctx context.Context, contractID uuid.UUID) (*models.Contract, error) {
	contract, err := s.repo.FindContract(ctx, contractID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeContractNotFound, "contract not found").
				WithDetails(map[string]any{"contract_id": contractID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load contract")
	}
	return contract, nil
}

func (s *service) loadActiveAccount(ctx context.Context, contractID uuid.UUID) (*models.VirtualAccount, error) {
	account, err := s.repo.FindActiveVirtualAccountByContract(ctx, contractID)
	if err != nil {
		return nil, lookupError(err, "escrow account not found")
	}
	return account, nil
}

func lookupError(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, message)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
}

func forbidden(message string) error {
	return pkgerrors.New(pkgerrors.CodeForbidden, message)
}

func requireBuyer(contractBuyer, actorID uuid.UUID, action string) error {
	if actorID == uuid.Nil || actorID != contractBuyer {
		return forbidden("only the buyer can " + action)
	}
	return nil
}

func notesFor(values map[string]string) gateway.Notes {
	notes := gateway.Notes{}
	for k, v := range values {
		if v != "" {
			notes[k] = v
		}
	}
	return notes
}

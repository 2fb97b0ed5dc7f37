package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox"
)

// Service exposes the atomic ledger commands. Every command that moves money
// runs in one database transaction holding the virtual account row lock, and
// a balance only changes when an escrow transaction becomes completed.
type Service interface {
	CreateContract(ctx context.Context, input CreateContractInput) (*models.Contract, error)
	CreateVirtualAccount(ctx context.Context, input CreateVirtualAccountInput) (*models.VirtualAccount, error)
	SaveContact(ctx context.Context, contact *models.GatewayContact) (*models.GatewayContact, error)
	SaveFundAccount(ctx context.Context, account *models.FundAccount) (*models.FundAccount, error)

	CreditFunding(ctx context.Context, input FundingInput) (*FundingResult, error)
	UpsertPayment(ctx context.Context, input PaymentInput) (*models.Payment, error)

	ClaimRelease(ctx context.Context, milestoneID uuid.UUID, reference string, ttl time.Duration) (*models.Milestone, error)
	ReleaseClaim(ctx context.Context, milestoneID uuid.UUID, reference string) error

	ReservePayout(ctx context.Context, input ReserveInput) (*models.PayoutReservation, error)
	ReleaseReservation(ctx context.Context, reference string) error

	RecordPendingPayout(ctx context.Context, input PayoutInput) (*PayoutOutcome, error)
	SettlePayout(ctx context.Context, input PayoutInput) (*PayoutOutcome, error)
	FailPayout(ctx context.Context, input PayoutInput) (*PayoutOutcome, error)

	DisputeMilestone(ctx context.Context, milestoneID, actorID uuid.UUID, reason string) (*models.Milestone, error)
	ResolveDispute(ctx context.Context, milestoneID, actorID uuid.UUID) (*models.Milestone, error)

	ReconcileBalance(ctx context.Context, virtualAccountID uuid.UUID) (*BalanceCheck, error)

	RegisterWebhookEvent(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error)
	MarkWebhookProcessed(ctx context.Context, id uuid.UUID, note *string) error
	MarkWebhookFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams wires the ledger service dependencies.
type ServiceParams struct {
	DB         txRunner
	Repository Repository
	Outbox     outboxEmitter
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	db     txRunner
	repo   Repository
	outbox outboxEmitter
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires a ledger service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("ledger db required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:     params.DB,
		repo:   params.Repository,
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    func() time.Time { return now().UTC() },
	}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func notFound(err error, code pkgerrors.Code, message string) error {
	if isNotFound(err) {
		return pkgerrors.New(code, message)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

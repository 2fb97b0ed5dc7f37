package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/internal/milestones"
	dbpkg "github.com/angelmondragon/escrow-ledger/pkg/db"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox/payloads"
)

// CreateContractInput seeds a contract and its milestone schedule.
type CreateContractInput struct {
	BuyerID    uuid.UUID
	SellerID   uuid.UUID
	Title      string
	TotalValue int64
	Milestones []models.Milestone
}

// CreateVirtualAccountInput carries the gateway account to persist for a contract.
type CreateVirtualAccountInput struct {
	ContractID  uuid.UUID
	ExternalID  string
	Name        string
	Description string
	ActorID     uuid.UUID
}

func (s *service) CreateContract(ctx context.Context, input CreateContractInput) (*models.Contract, error) {
	if input.BuyerID == uuid.Nil || input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer and seller are required")
	}
	if input.BuyerID == input.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer and seller must differ")
	}
	if input.TotalValue <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total value must be positive")
	}
	if err := milestones.ValidateSchedule(input.TotalValue, input.Milestones); err != nil {
		return nil, err
	}

	contract := &models.Contract{
		BuyerID:    input.BuyerID,
		SellerID:   input.SellerID,
		Title:      strings.TrimSpace(input.Title),
		TotalValue: input.TotalValue,
		Status:     enums.ContractStatusActive,
	}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateContract(ctx, contract); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create contract")
		}
		for i := range input.Milestones {
			m := input.Milestones[i]
			m.ID = uuid.Nil
			m.ContractID = contract.ID
			m.Status = enums.MilestoneStatusPending
			if err := repo.SaveMilestone(ctx, &m); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create milestone")
			}
			contract.Milestones = append(contract.Milestones, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return contract, nil
}

func (s *service) CreateVirtualAccount(ctx context.Context, input CreateVirtualAccountInput) (*models.VirtualAccount, error) {
	if strings.TrimSpace(input.ExternalID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external account id is required")
	}

	var account *models.VirtualAccount
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		contract, err := repo.LockContract(ctx, input.ContractID)
		if err != nil {
			return notFound(err, pkgerrors.CodeContractNotFound, "contract not found")
		}
		if _, err := repo.FindActiveVirtualAccountByContract(ctx, contract.ID); err == nil {
			return pkgerrors.New(pkgerrors.CodeAlreadyExists, "contract already has an active escrow account")
		} else if !isNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup escrow account")
		}

		account = &models.VirtualAccount{
			ExternalID:  input.ExternalID,
			ContractID:  contract.ID,
			BuyerID:     contract.BuyerID,
			SellerID:    contract.SellerID,
			Status:      enums.VirtualAccountStatusActive,
			Name:        input.Name,
			Description: input.Description,
		}
		if err := repo.CreateVirtualAccount(ctx, account); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeAlreadyExists, err, "escrow account already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create escrow account")
		}

		contract.HasEscrow = true
		if err := repo.SaveContract(ctx, contract); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "flag contract escrow")
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowAccountCreated,
			AggregateType: enums.AggregateVirtualAccount,
			AggregateID:   account.ID,
			Actor:         actorRef(contract, input.ActorID),
			Data: payloads.EscrowAccountCreatedEvent{
				VirtualAccountID: account.ID,
				ContractID:       contract.ID,
				ExternalID:       account.ExternalID,
				BuyerID:          account.BuyerID,
				SellerID:         account.SellerID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SaveContact returns the existing contact for the user or stores the new one.
func (s *service) SaveContact(ctx context.Context, contact *models.GatewayContact) (*models.GatewayContact, error) {
	if contact == nil || contact.UserID == uuid.Nil || contact.ExternalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contact user and external id are required")
	}
	existing, err := s.repo.FindContactByUser(ctx, contact.UserID)
	if err == nil {
		return existing, nil
	}
	if !isNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup contact")
	}
	if err := s.repo.CreateContact(ctx, contact); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return s.repo.FindContactByUser(ctx, contact.UserID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create contact")
	}
	return contact, nil
}

// SaveFundAccount stores the account as the user's only active payout destination.
func (s *service) SaveFundAccount(ctx context.Context, account *models.FundAccount) (*models.FundAccount, error) {
	if account == nil || account.UserID == uuid.Nil || account.ExternalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fund account user and external id are required")
	}
	account.IsActive = true
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.DeactivateFundAccounts(ctx, account.UserID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deactivate fund accounts")
		}
		if err := repo.CreateFundAccount(ctx, account); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeAlreadyExists, err, "fund account already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create fund account")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func actorRef(contract *models.Contract, actorID uuid.UUID) *outbox.ActorRef {
	if actorID == uuid.Nil {
		return &outbox.ActorRef{Role: outbox.RoleGateway}
	}
	role := outbox.RoleSystem
	switch actorID {
	case contract.BuyerID:
		role = outbox.RoleBuyer
	case contract.SellerID:
		role = outbox.RoleSeller
	}
	return &outbox.ActorRef{UserID: &actorID, Role: role}
}

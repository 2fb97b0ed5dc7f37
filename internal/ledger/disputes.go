package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/internal/milestones"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox/payloads"
)

func (s *service) DisputeMilestone(ctx context.Context, milestoneID, actorID uuid.UUID, reason string) (*models.Milestone, error) {
	return s.transitionDispute(ctx, milestoneID, actorID, func(m *models.Milestone) error {
		return milestones.MarkDisputed(m, reason)
	}, enums.EventMilestoneDisputed, reason)
}

func (s *service) ResolveDispute(ctx context.Context, milestoneID, actorID uuid.UUID) (*models.Milestone, error) {
	return s.transitionDispute(ctx, milestoneID, actorID, milestones.Resolve, enums.EventMilestoneDisputeResolved, "")
}

func (s *service) transitionDispute(ctx context.Context, milestoneID, actorID uuid.UUID, apply func(*models.Milestone) error, eventType enums.OutboxEventType, reason string) (*models.Milestone, error) {
	var milestone *models.Milestone
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		milestone, err = repo.LockMilestone(ctx, milestoneID)
		if err != nil {
			return notFound(err, pkgerrors.CodeNotFound, "milestone not found")
		}
		contract, err := repo.FindContract(ctx, milestone.ContractID)
		if err != nil {
			return notFound(err, pkgerrors.CodeContractNotFound, "contract not found")
		}
		if !contract.IsParty(actorID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only contract parties may change a dispute")
		}
		if err := apply(milestone); err != nil {
			return err
		}
		if err := repo.SaveMilestone(ctx, milestone); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update milestone")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateMilestone,
			AggregateID:   milestone.ID,
			Actor:         actorRef(contract, actorID),
			Data: payloads.MilestoneDisputeEvent{
				MilestoneID: milestone.ID,
				ContractID:  contract.ID,
				ActorID:     actorID,
				Status:      string(milestone.Status),
				Reason:      reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return milestone, nil
}

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
)

// ReserveInput holds funds for a payout before it is sent to the gateway.
// StaleAfter frees older holds of the account that never reached the gateway.
type ReserveInput struct {
	VirtualAccountID uuid.UUID
	Reference        string
	MilestoneID      *uuid.UUID
	Purpose          string
	Amount           int64
	StaleAfter       time.Duration
}

// ReservePayout checks balance minus outstanding holds under the account lock
// and records a hold keyed by the payout reference. Reserving a reference that
// is already held returns the existing hold.
func (s *service) ReservePayout(ctx context.Context, input ReserveInput) (*models.PayoutReservation, error) {
	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout reference is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	purpose := input.Purpose
	if purpose == "" {
		purpose = models.PayoutPurposeRelease
	}

	var reservation *models.PayoutReservation
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := s.lockAccount(ctx, repo, input.VirtualAccountID, "")
		if err != nil {
			return err
		}
		if account.Status != enums.VirtualAccountStatusActive {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "escrow account is not active")
		}

		existing, err := repo.FindReservation(ctx, reference)
		switch {
		case err == nil:
			if existing.VirtualAccountID != account.ID || existing.Amount != input.Amount || existing.Purpose != purpose {
				return pkgerrors.New(pkgerrors.CodeConflict, "reference already used for another payout").
					WithDetails(map[string]any{"reference": reference})
			}
			switch existing.Status {
			case enums.ReservationHeld:
				reservation = existing
				return nil
			case enums.ReservationSettled:
				return pkgerrors.New(pkgerrors.CodeConflict, "payout with this reference already settled").
					WithDetails(map[string]any{"reference": reference})
			}
			reservation = existing
		case isNotFound(err):
			reservation = &models.PayoutReservation{
				Reference:        reference,
				VirtualAccountID: account.ID,
				MilestoneID:      input.MilestoneID,
				Purpose:          purpose,
				Amount:           input.Amount,
			}
		default:
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payout reservation")
		}

		if input.StaleAfter > 0 {
			freed, err := repo.ReleaseStaleReservations(ctx, account.ID, s.now().Add(-input.StaleAfter))
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release stale reservations")
			}
			if freed > 0 {
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"virtual_account_id": account.ID.String(),
					"released":           freed,
				}), "ledger.reservation.stale_released")
			}
		}

		held, err := repo.SumHeld(ctx, account.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum held reservations")
		}
		if account.Balance-held < input.Amount {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient escrow balance").
				WithDetails(map[string]any{"balance": account.Balance, "held": held, "amount": input.Amount})
		}

		reservation.Status = enums.ReservationHeld
		reservation.CreatedAt = s.now()
		if err := repo.SaveReservation(ctx, reservation); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save payout reservation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// ReleaseReservation frees a hold whose payout never reached the gateway.
// Settled holds and unknown references are left alone.
func (s *service) ReleaseReservation(ctx context.Context, reference string) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.closeReservation(ctx, s.repo.WithTx(tx), reference, "", enums.ReservationReleased)
	})
}

// closeReservation moves a held reservation to its final status. A settled
// hold never goes back to released.
func (s *service) closeReservation(ctx context.Context, repo Repository, reference, payoutID string, status enums.ReservationStatus) error {
	if strings.TrimSpace(reference) == "" {
		return nil
	}
	reservation, err := repo.FindReservation(ctx, reference)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payout reservation")
	}
	if reservation.Status == enums.ReservationSettled || reservation.Status == status {
		return nil
	}
	reservation.Status = status
	if payoutID != "" {
		reservation.PayoutExternalID = &payoutID
	}
	if err := repo.SaveReservation(ctx, reservation); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payout reservation")
	}
	return nil
}

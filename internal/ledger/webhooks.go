package ledger

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/escrow-ledger/pkg/db"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
)

const maxFailureReasonLen = 1024

// RegisterWebhookEvent stores a delivery keyed by its external event id. The
// boolean is false when the event was already known, in which case the
// stored row is returned.
func (s *service) RegisterWebhookEvent(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error) {
	if event == nil || strings.TrimSpace(event.ExternalEventID) == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "webhook event id is required")
	}
	existing, err := s.repo.FindWebhookEventByExternalID(ctx, event.ExternalEventID)
	if err == nil {
		return existing, false, nil
	}
	if !isNotFound(err) {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup webhook event")
	}
	if event.ProcessingStatus == "" {
		event.ProcessingStatus = enums.WebhookStatusPending
	}
	if event.Source == "" {
		event.Source = enums.WebhookSourceGateway
	}
	if err := s.repo.CreateWebhookEvent(ctx, event); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			existing, findErr := s.repo.FindWebhookEventByExternalID(ctx, event.ExternalEventID)
			if findErr != nil {
				return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "reload webhook event")
			}
			return existing, false, nil
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store webhook event")
	}
	return event, true, nil
}

func (s *service) MarkWebhookProcessed(ctx context.Context, id uuid.UUID, note *string) error {
	now := s.now()
	updates := map[string]any{
		"processing_status": enums.WebhookStatusProcessed,
		"processed_at":      now,
		"failure_reason":    nil,
		"attempt_count":     gorm.Expr("attempt_count + 1"),
		"updated_at":        now,
	}
	if note != nil {
		updates["note"] = *note
	}
	if err := s.repo.UpdateWebhookEvent(ctx, id, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark webhook processed")
	}
	return nil
}

func (s *service) MarkWebhookFailed(ctx context.Context, id uuid.UUID, reason string) error {
	reason = clipReason(reason, maxFailureReasonLen)
	now := s.now()
	updates := map[string]any{
		"processing_status": enums.WebhookStatusFailed,
		"failure_reason":    reason,
		"attempt_count":     gorm.Expr("attempt_count + 1"),
		"updated_at":        now,
	}
	if err := s.repo.UpdateWebhookEvent(ctx, id, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark webhook failed")
	}
	return nil
}

// clipReason cuts s to at most limit bytes without splitting a rune.
func clipReason(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

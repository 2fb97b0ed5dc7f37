package gatewaywebhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/internal/ledger"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/gateway"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
	"github.com/angelmondragon/escrow-ledger/pkg/metrics"
)

// Notes recorded on processed webhook rows.
const (
	NoteUnhandledEvent         = "unhandled event type"
	NotePaymentAlreadyCredited = "payment already credited"
	NotePayoutAlreadySettled   = "payout already settled"
	NotePayoutAlreadyFailed    = "payout already failed"
	NotePayoutAlreadyRecorded  = "payout already recorded"
)

// ErrDeliveryInFlight is returned while another replica processes the same event.
var ErrDeliveryInFlight = pkgerrors.New(pkgerrors.CodeConflict, "webhook delivery already in progress")

type signatureVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) bool
}

type deliveryLease interface {
	Acquire(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// ServiceParams wires the reconciler. Lease and Metrics are optional.
type ServiceParams struct {
	Ledger     ledger.Service
	Repository ledger.Repository
	Verifier   signatureVerifier
	Lease      deliveryLease
	Metrics    *metrics.WebhookMetrics
	Logger     *logger.Logger
}

// Service verifies gateway deliveries and replays them onto the ledger.
type Service struct {
	ledger   ledger.Service
	repo     ledger.Repository
	verifier signatureVerifier
	lease    deliveryLease
	metrics  *metrics.WebhookMetrics
	logg     *logger.Logger
}

// Result describes how a delivery was handled.
type Result struct {
	EventID   string
	EventType string
	Status    enums.WebhookProcessingStatus
	Duplicate bool
	Note      string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		ledger:   params.Ledger,
		repo:     params.Repository,
		verifier: params.Verifier,
		lease:    params.Lease,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// HandleEvent verifies, records and applies one raw delivery. Failures that
// a redelivery cannot fix are recorded on the row and acknowledged; transient
// failures are returned so the gateway retries.
func (s *Service) HandleEvent(ctx context.Context, raw []byte, signature, headerEventID string) (*Result, error) {
	if !s.verifier.VerifyWebhookSignature(raw, signature) {
		s.logg.Security(s.logg.WithField(ctx, "event_id_header", headerEventID),
			"webhook.signature_invalid", "gateway webhook signature rejected")
		s.metrics.Inc("unverified", "rejected")
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "invalid webhook signature")
	}

	decoded, err := Decode(raw, headerEventID)
	if err != nil {
		s.metrics.Inc("undecodable", "rejected")
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook.decode_failed")
		return nil, err
	}
	ctx = s.logg.WithWebhookEvent(ctx, decoded.EventID, decoded.EventType)

	if s.lease != nil {
		acquired, err := s.lease.Acquire(ctx, decoded.EventID)
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook.lease_unavailable")
		case !acquired:
			s.metrics.Inc(decoded.EventType, "in_flight")
			return nil, ErrDeliveryInFlight
		default:
			defer func() {
				if err := s.lease.Release(context.WithoutCancel(ctx), decoded.EventID); err != nil {
					s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook.lease_release_failed")
				}
			}()
		}
	}

	row, _, err := s.ledger.RegisterWebhookEvent(ctx, &models.WebhookEvent{
		Source:          enums.WebhookSourceGateway,
		EventType:       decoded.EventType,
		ExternalEventID: decoded.EventID,
		Signature:       signature,
		IsVerified:      true,
		Payload:         raw,
	})
	if err != nil {
		s.logg.Error(ctx, "webhook.persist_failed", err)
		return nil, err
	}
	if row.ProcessingStatus == enums.WebhookStatusProcessed {
		s.metrics.Inc(decoded.EventType, "duplicate")
		s.logg.Info(ctx, "webhook.duplicate")
		return duplicateResult(row), nil
	}
	return s.process(ctx, row, decoded)
}

// Reprocess replays a stored delivery. The signature was verified when the
// row was written, so only verified rows are accepted.
func (s *Service) Reprocess(ctx context.Context, row *models.WebhookEvent) (*Result, error) {
	if row == nil || !row.IsVerified {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only verified webhook events can be reprocessed")
	}
	ctx = s.logg.WithWebhookEvent(ctx, row.ExternalEventID, row.EventType)
	if row.ProcessingStatus == enums.WebhookStatusProcessed {
		return duplicateResult(row), nil
	}
	decoded, err := Decode(row.Payload, row.ExternalEventID)
	if err != nil {
		if markErr := s.ledger.MarkWebhookFailed(ctx, row.ID, err.Error()); markErr != nil {
			return nil, markErr
		}
		return &Result{EventID: row.ExternalEventID, EventType: row.EventType, Status: enums.WebhookStatusFailed, Note: err.Error()}, nil
	}
	decoded.EventID = row.ExternalEventID
	return s.process(ctx, row, decoded)
}

func (s *Service) process(ctx context.Context, row *models.WebhookEvent, decoded *Decoded) (*Result, error) {
	result := &Result{EventID: decoded.EventID, EventType: decoded.EventType}

	note, err := s.dispatch(ctx, decoded.Event)
	if err != nil {
		result.Status = enums.WebhookStatusFailed
		result.Note = err.Error()
		if markErr := s.ledger.MarkWebhookFailed(ctx, row.ID, err.Error()); markErr != nil {
			s.logg.Error(ctx, "webhook.mark_failed_failed", markErr)
		}
		s.metrics.Inc(decoded.EventType, "failed")
		if pkgerrors.Retryable(err) {
			s.logg.Error(ctx, "webhook.processing_failed", err)
			return result, err
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"error": err.Error(),
			"code":  pkgerrors.CodeOf(err),
		}), "webhook.processing_rejected")
		return result, nil
	}

	var notePtr *string
	if note != "" {
		notePtr = &note
	}
	if err := s.ledger.MarkWebhookProcessed(ctx, row.ID, notePtr); err != nil {
		s.logg.Error(ctx, "webhook.mark_processed_failed", err)
		return nil, err
	}
	result.Status = enums.WebhookStatusProcessed
	result.Note = note

	outcome := "processed"
	if _, unknown := decoded.Event.(UnknownEvent); unknown {
		outcome = "ignored"
	}
	s.metrics.Inc(decoded.EventType, outcome)
	s.logg.Info(s.logg.WithField(ctx, "note", note), "webhook.processed")
	return result, nil
}

func (s *Service) dispatch(ctx context.Context, event Event) (string, error) {
	switch e := event.(type) {
	case PaymentEvent:
		return s.applyPayment(ctx, e)
	case PayoutEvent:
		return s.ApplyPayout(ctx, e)
	case UnknownEvent:
		s.logg.Info(ctx, "webhook.unhandled_event")
		return NoteUnhandledEvent, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unsupported webhook event %T", event))
	}
}

func (s *Service) applyPayment(ctx context.Context, e PaymentEvent) (string, error) {
	if e.AccountExternalID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment is not linked to a virtual account")
	}
	p := e.Payment
	ctx = s.logg.WithFields(ctx, map[string]any{
		"payment_id":          p.ID,
		"external_account_id": e.AccountExternalID,
	})

	switch e.EventType {
	case EventPaymentCaptured:
		res, err := s.ledger.CreditFunding(ctx, ledger.FundingInput{
			AccountExternalID: e.AccountExternalID,
			PaymentExternalID: p.ID,
			Amount:            p.Amount,
			Method:            p.Method,
			PayerReference:    p.Reference,
			CapturedAt:        unixTime(p.CreatedAt),
			Source:            ledger.SourceWebhook,
		})
		if err != nil {
			return "", err
		}
		if res.Duplicate {
			return NotePaymentAlreadyCredited, nil
		}
		return "", nil
	case EventPaymentAuthorized, EventPaymentFailed:
		status := enums.PaymentStatusAuthorized
		if e.EventType == EventPaymentFailed {
			status = enums.PaymentStatusFailed
		}
		_, err := s.ledger.UpsertPayment(ctx, ledger.PaymentInput{
			AccountExternalID: e.AccountExternalID,
			PaymentExternalID: p.ID,
			Amount:            p.Amount,
			Status:            status,
			Method:            p.Method,
			PayerReference:    p.Reference,
		})
		return "", err
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unexpected payment event "+e.EventType)
	}
}

// ApplyPayout moves the ledger to match a gateway payout status. The payout
// reconcile job feeds polled payouts through the same path.
func (s *Service) ApplyPayout(ctx context.Context, e PayoutEvent) (string, error) {
	p := e.Payout
	ctx = s.logg.WithField(ctx, "payout_id", p.ID)

	accountID, err := s.payoutAccount(ctx, p)
	if err != nil {
		return "", err
	}
	input := ledger.PayoutInput{
		ExternalID:            p.ID,
		Reference:             p.ReferenceID,
		VirtualAccountID:      accountID,
		FundAccountExternalID: p.FundAccountID,
		MilestoneID:           noteUUID(p.Notes, gateway.NoteMilestoneID),
		Purpose:               p.purpose(),
		Amount:                p.Amount,
		Status:                p.payoutStatus(e.EventType),
		UTR:                   p.UTR,
		FailureReason:         p.FailureReason,
		ReceiverID:            noteUUID(p.Notes, gateway.NoteReceiverID),
		Description:           "gateway " + e.EventType,
	}

	switch e.EventType {
	case EventPayoutInitiated:
		out, err := s.ledger.RecordPendingPayout(ctx, input)
		if err != nil {
			return "", err
		}
		if out.Duplicate {
			return NotePayoutAlreadyRecorded, nil
		}
		return "", nil
	case EventPayoutProcessed:
		out, err := s.ledger.SettlePayout(ctx, input)
		if err != nil {
			return "", err
		}
		if out.Duplicate {
			return NotePayoutAlreadySettled, nil
		}
		return "", nil
	case EventPayoutFailed, EventPayoutReversed:
		out, err := s.ledger.FailPayout(ctx, input)
		if err != nil {
			return "", err
		}
		switch {
		case out.Note != "":
			return out.Note, nil
		case out.Duplicate:
			return NotePayoutAlreadyFailed, nil
		}
		return "", nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unexpected payout event "+e.EventType)
	}
}

// payoutAccount resolves the virtual account from the payout notes, falling
// back to a payout row the orchestrator already stored.
func (s *Service) payoutAccount(ctx context.Context, p PayoutEntity) (uuid.UUID, error) {
	if id := noteUUID(p.Notes, gateway.NoteVirtualAccountID); id != nil {
		return *id, nil
	}
	stored, err := s.repo.FindPayoutByExternalID(ctx, p.ID)
	if err == nil {
		return stored.VirtualAccountID, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout is not linked to a virtual account").
			WithDetails(map[string]any{"payout_id": p.ID})
	}
	return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payout")
}

func duplicateResult(row *models.WebhookEvent) *Result {
	result := &Result{
		EventID:   row.ExternalEventID,
		EventType: row.EventType,
		Status:    row.ProcessingStatus,
		Duplicate: true,
	}
	if row.Note != nil {
		result.Note = *row.Note
	}
	return result
}

package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/escrow-ledger/api/responses"
	gatewaywebhook "github.com/angelmondragon/escrow-ledger/internal/webhooks/gateway"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/gateway"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
)

const maxWebhookBytes = 1 << 20

type GatewayWebhookService interface {
	HandleEvent(ctx context.Context, raw []byte, signature, headerEventID string) (*gatewaywebhook.Result, error)
}

type gatewayWebhookResponse struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
	Note      string `json:"note,omitempty"`
}

// GatewayWebhook verifies and applies payment gateway deliveries. A 2xx
// acknowledges the delivery; any other status asks the gateway to redeliver.
func GatewayWebhook(svc GatewayWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(gateway.SignatureHeader)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "gateway signature missing"))
			return
		}

		result, err := svc.HandleEvent(ctx, payload, signature, r.Header.Get(gateway.EventIDHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, gatewayWebhookResponse{
			EventID:   result.EventID,
			EventType: result.EventType,
			Status:    string(result.Status),
			Duplicate: result.Duplicate,
			Note:      result.Note,
		})
	}
}

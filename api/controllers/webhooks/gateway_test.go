package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gatewaywebhook "github.com/angelmondragon/escrow-ledger/internal/webhooks/gateway"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/gateway"
)

type stubWebhookService struct {
	raw       []byte
	signature string
	eventID   string
	result    *gatewaywebhook.Result
	err       error
}

func (s *stubWebhookService) HandleEvent(_ context.Context, raw []byte, signature, headerEventID string) (*gatewaywebhook.Result, error) {
	s.raw = raw
	s.signature = signature
	s.eventID = headerEventID
	return s.result, s.err
}

func webhookRequest(body, signature, eventID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(gateway.SignatureHeader, signature)
	}
	if eventID != "" {
		req.Header.Set(gateway.EventIDHeader, eventID)
	}
	return req
}

func TestGatewayWebhookAcknowledgesProcessedEvent(t *testing.T) {
	svc := &stubWebhookService{result: &gatewaywebhook.Result{
		EventID:   "evt_1",
		EventType: "payment.captured",
		Status:    enums.WebhookStatusProcessed,
	}}

	rec := httptest.NewRecorder()
	GatewayWebhook(svc, nil).ServeHTTP(rec, webhookRequest(`{"event":"payment.captured"}`, "abc", "evt_1"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"event":"payment.captured"}`, string(svc.raw))
	assert.Equal(t, "abc", svc.signature)
	assert.Equal(t, "evt_1", svc.eventID)

	var body struct {
		Data gatewayWebhookResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "evt_1", body.Data.EventID)
	assert.Equal(t, string(enums.WebhookStatusProcessed), body.Data.Status)
}

func TestGatewayWebhookReadsGatewayHeaders(t *testing.T) {
	body := `{"event":"payout.processed"}`
	signature := gateway.Sign("whsec_test", []byte(body))
	svc := &stubWebhookService{result: &gatewaywebhook.Result{Status: enums.WebhookStatusProcessed}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", strings.NewReader(body))
	req.Header.Set("X-Gateway-Signature", signature)
	req.Header.Set("X-Gateway-Event-Id", "evt_hdr")

	rec := httptest.NewRecorder()
	GatewayWebhook(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, signature, svc.signature)
	assert.Equal(t, "evt_hdr", svc.eventID)
	assert.True(t, gateway.VerifySignature("whsec_test", svc.raw, svc.signature))
}

func TestGatewayWebhookRejectsMissingSignature(t *testing.T) {
	svc := &stubWebhookService{}

	rec := httptest.NewRecorder()
	GatewayWebhook(svc, nil).ServeHTTP(rec, webhookRequest(`{}`, "", ""))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, svc.raw)
}

func TestGatewayWebhookStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad signature", pkgerrors.New(pkgerrors.CodeSignatureInvalid, "invalid webhook signature"), http.StatusUnauthorized},
		{"malformed", pkgerrors.New(pkgerrors.CodeValidation, "malformed payload"), http.StatusBadRequest},
		{"in flight", gatewaywebhook.ErrDeliveryInFlight, http.StatusConflict},
		{"transient", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			GatewayWebhook(&stubWebhookService{err: tt.err}, nil).ServeHTTP(rec, webhookRequest(`{}`, "sig", ""))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

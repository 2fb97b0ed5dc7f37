package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrow-ledger/pkg/config"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
	"github.com/angelmondragon/escrow-ledger/pkg/metrics"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	client, err := NewClient(context.Background(), config.GatewayConfig{
		BaseURL:             srv.URL,
		KeyID:               "key",
		KeySecret:           "secret",
		WebhookSecret:       "whsec",
		SourceAccountNumber: "2323230000",
		Currency:            "inr",
	}, logg, WithMetrics(metrics.NewGatewayMetrics(prometheus.NewRegistry())))
	require.NoError(t, err)
	return client
}

func TestNewClientValidatesConfig(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	_, err := NewClient(context.Background(), config.GatewayConfig{BaseURL: "http://gw"}, logg)
	require.Error(t, err)

	_, err = NewClient(context.Background(), config.GatewayConfig{BaseURL: "http://gw", KeyID: "k", KeySecret: "s"}, logg)
	require.ErrorIs(t, err, errWebhookSecretRequired)

	_, err = NewClient(context.Background(), config.GatewayConfig{BaseURL: "http://gw", KeyID: "k", KeySecret: "s", WebhookSecret: "w"}, nil)
	require.ErrorIs(t, err, errLoggerRequired)
}

func TestCreatePayoutSendsIdempotencyHeaderAndAuth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payouts", r.URL.Path)
		assert.Equal(t, "rel-123", r.Header.Get(idempotencyHeader))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)

		var body payoutBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(40000), body.Amount)
		assert.Equal(t, "INR", body.Currency)
		assert.Equal(t, "fa_1", body.FundAccountID)
		assert.Equal(t, "2323230000", body.AccountNumber)
		assert.Equal(t, "ms-1", body.Notes[NoteMilestoneID])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pout_1","status":"processing","amount":40000,"reference_id":"rel-123"}`))
	})

	res, err := client.CreatePayout(context.Background(), PayoutRequest{
		FundAccountExternalID: "fa_1",
		Amount:                40000,
		Reference:             "rel-123",
		Purpose:               "payout",
		Notes:                 Notes{NoteMilestoneID: "ms-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pout_1", res.ID)
	assert.Equal(t, "processing", res.Status)
	assert.Nil(t, res.UTR)
}

func TestCreatePayoutRejectsNonPositiveAmount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected gateway call")
	})
	_, err := client.CreatePayout(context.Background(), PayoutRequest{Amount: 0, Reference: "x"})
	require.ErrorIs(t, err, errAmountRequired)
}

func TestNon2xxBecomesGatewayError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"insufficient funds in source account"}}`))
	})

	_, err := client.GetPayout(context.Background(), "pout_9")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
	assert.Equal(t, pkgerrors.CodeGateway, pkgerrors.CodeOf(err))
}

func TestNon2xxWithoutJSONBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	})

	_, err := client.GetPayout(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestGetAccountPaymentsDecodesItems(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/virtual_accounts/va_1/payments", r.URL.Path)
		_, _ = w.Write([]byte(`{"count":2,"items":[{"id":"pay_1","amount":100,"status":"captured"},{"id":"pay_2","amount":50,"status":"failed"}]}`))
	})

	items, err := client.GetAccountPayments(context.Background(), "va_1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	status, err := items[0].PaymentStatus()
	require.NoError(t, err)
	assert.Equal(t, "captured", string(status))
}

func TestInitiateFundingPostsToAccount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/virtual_accounts/va_9/payments", r.URL.Path)
		var body fundingBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(100000), body.Amount)
		_, _ = w.Write([]byte(`{"id":"pay_7","amount":100000,"status":"captured","virtual_account_id":"va_9"}`))
	})

	ref, err := client.InitiateFunding(context.Background(), FundingRequest{AccountExternalID: "va_9", Amount: 100000, Reference: "fund-1"})
	require.NoError(t, err)
	assert.Equal(t, "pay_7", ref.ID)
}

func TestCreateFundAccountRequiresExactlyOneInstrument(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body fundAccountRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "vpa", body.AccountType)
		_, _ = w.Write([]byte(`{"id":"fa_1","contact_id":"cont_1","account_type":"vpa","active":true}`))
	})

	_, err := client.CreateFundAccount(context.Background(), "cont_1", AccountSpec{})
	require.ErrorIs(t, err, ErrInvalidAccountSpec)

	_, err = client.CreateFundAccount(context.Background(), "cont_1", AccountSpec{
		VPA:  &VPASpec{Address: "seller@upi"},
		Card: &CardSpec{Number: "4111111111111111"},
	})
	require.ErrorIs(t, err, ErrInvalidAccountSpec)

	ref, err := client.CreateFundAccount(context.Background(), "cont_1", AccountSpec{VPA: &VPASpec{Address: "seller@upi"}})
	require.NoError(t, err)
	assert.Equal(t, "fa_1", ref.ID)
}

func TestAccountSpecMasked(t *testing.T) {
	assert.Equal(t, "bank ****6789", AccountSpec{BankAccount: &BankAccountSpec{AccountNumber: "123456789"}}.Masked())
	assert.Equal(t, "vpa se***@upi", AccountSpec{VPA: &VPASpec{Address: "seller@upi"}}.Masked())
}

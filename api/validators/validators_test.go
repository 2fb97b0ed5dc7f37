package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
)

type fundBody struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Reason string `json:"reason" validate:"required,max=10"`
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":0,"reason":""}`))

	var body fundBody
	err := DecodeJSONBody(r, &body)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be greater than 0", details["amount"])
	assert.Equal(t, "is required", details["reason"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":5,"reason":"ok","extra":1}`))

	var body fundBody
	err := DecodeJSONBody(r, &body)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyRequiresBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))

	var body fundBody
	err := DecodeJSONBody(r, &body)
	require.Error(t, err)
	assert.Equal(t, "request body required", pkgerrors.As(err).Message())
}

type payoutBody struct {
	Bank *struct {
		IFSC string `json:"ifsc" validate:"required,ifsc"`
	} `json:"bank_account,omitempty"`
	VPA string `json:"vpa" validate:"omitempty,vpa"`
}

func TestDecodeJSONBodyChecksPayoutInstruments(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bank_account":{"ifsc":"hdfc123"},"vpa":"no-handle"}`))

	var body payoutBody
	err := DecodeJSONBody(r, &body)
	require.Error(t, err)
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be a valid IFSC code", details["bank_account.ifsc"])
	assert.Equal(t, "must be a valid UPI address", details["vpa"])

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bank_account":{"ifsc":"HDFC0000001"},"vpa":"seller@upi"}`))
	require.NoError(t, DecodeJSONBody(r, &payoutBody{}))
}

func TestDecodeJSONBodyRejectsTrailingData(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":5,"reason":"ok"}{"amount":6}`))

	err := DecodeJSONBody(r, &fundBody{})
	require.Error(t, err)
	assert.Equal(t, "request body must hold a single JSON object", pkgerrors.As(err).Message())
}

func TestParseQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=20&bad=x&big=900", nil)

	v, err := ParseQueryInt(r, "limit", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	v, err = ParseQueryInt(r, "missing", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	_, err = ParseQueryInt(r, "bad", 50, 1, 200)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = ParseQueryInt(r, "big", 50, 1, 200)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("contractId", id.String())
	rctx.URLParams.Add("broken", "nope")
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	got, err := ParseUUIDParam(r, "contractId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUIDParam(r, "broken")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = ParseUUIDParam(r, "absent")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("  abcdef ", 3))
	assert.Equal(t, "abcdef", SanitizeString("abcdef", 0))
	assert.Equal(t, "milestone one", SanitizeString("milestone\x00 one\n", 0))
	assert.Equal(t, "₹₹", SanitizeString("₹₹₹", 2))
}

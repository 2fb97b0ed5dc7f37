package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/escrow-ledger/pkg/config"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
	"github.com/angelmondragon/escrow-ledger/pkg/metrics"
)

const (
	idempotencyHeader = "X-Payout-Idempotency"
	payoutModeIMPS    = "IMPS"
	maxErrorBodyBytes = 64 << 10
)

var (
	errBaseURLRequired       = errors.New("gateway base url is required")
	errCredentialsRequired   = errors.New("gateway key id and secret are required")
	errWebhookSecretRequired = errors.New("gateway webhook secret is required")
	errLoggerRequired        = errors.New("gateway logger is required")
	errAmountRequired        = errors.New("amount must be positive")
)

// Client talks to the payment gateway REST API with basic auth.
type Client struct {
	baseURL       *url.URL
	keyID         string
	keySecret     string
	webhookSecret string
	sourceAccount string
	currency      string
	http          *http.Client
	logger        *logger.Logger
	metrics       *metrics.GatewayMetrics
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMetrics records request counts and latency per operation.
func WithMetrics(m *metrics.GatewayMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient validates the credentials and builds a gateway client.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errBaseURLRequired
	}
	base, err := url.Parse(strings.TrimRight(raw, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing gateway base url: %w", err)
	}
	if strings.TrimSpace(cfg.KeyID) == "" || strings.TrimSpace(cfg.KeySecret) == "" {
		return nil, errCredentialsRequired
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errWebhookSecretRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		baseURL:       base,
		keyID:         strings.TrimSpace(cfg.KeyID),
		keySecret:     strings.TrimSpace(cfg.KeySecret),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		sourceAccount: strings.TrimSpace(cfg.SourceAccountNumber),
		currency:      cfg.NormalizedCurrency(),
		http:          &http.Client{Timeout: timeout},
		logger:        logg,
	}
	for _, opt := range opts {
		opt(c)
	}

	logg.Info(ctx, "gateway client initialized")
	return c, nil
}

// Currency returns the ISO currency used for every request.
func (c *Client) Currency() string {
	if c == nil {
		return ""
	}
	return c.currency
}

func (c *Client) CreateContact(ctx context.Context, req ContactRequest) (*ContactRef, error) {
	if req.Type == "" {
		req.Type = "customer"
	}
	c.log(ctx, "request", "create_contact", map[string]any{"reference_id": req.ReferenceID, "email": req.Email})

	var out ContactRef
	if err := c.do(ctx, "create_contact", http.MethodPost, "contacts", req, nil, &out); err != nil {
		return nil, err
	}
	c.log(ctx, "response", "create_contact", map[string]any{"contact_id": out.ID})
	return &out, nil
}

// CreateFundAccount registers a payout destination for a contact.
func (c *Client) CreateFundAccount(ctx context.Context, contactID string, spec AccountSpec) (*FundAccountRef, error) {
	kind, err := spec.Type()
	if err != nil {
		return nil, err
	}
	body := fundAccountRequest{
		ContactID:   contactID,
		AccountType: string(kind),
		BankAccount: spec.BankAccount,
		VPA:         spec.VPA,
		Card:        spec.Card,
	}
	c.log(ctx, "request", "create_fund_account", map[string]any{"contact_id": contactID, "account_type": kind})

	var out FundAccountRef
	if err := c.do(ctx, "create_fund_account", http.MethodPost, "fund_accounts", body, nil, &out); err != nil {
		return nil, err
	}
	c.log(ctx, "response", "create_fund_account", map[string]any{"fund_account_id": out.ID})
	return &out, nil
}

func (c *Client) CreateVirtualAccount(ctx context.Context, req VirtualAccountRequest) (*VirtualAccountRef, error) {
	notes := Notes{}
	for k, v := range req.Notes {
		notes[k] = v
	}
	notes[NoteContractID] = req.ContractID
	notes[NoteBuyerID] = req.BuyerID
	notes[NoteSellerID] = req.SellerID

	body := virtualAccountBody{
		Name:        req.Name,
		Description: req.Description,
		Receivers:   receiversTypes{Types: []string{"bank_account"}},
		Notes:       notes,
	}
	c.log(ctx, "request", "create_virtual_account", map[string]any{"contract_id": req.ContractID})

	var out VirtualAccountRef
	if err := c.do(ctx, "create_virtual_account", http.MethodPost, "virtual_accounts", body, nil, &out); err != nil {
		return nil, err
	}
	c.log(ctx, "response", "create_virtual_account", map[string]any{"virtual_account_id": out.ID})
	return &out, nil
}

// InitiateFunding asks the gateway to move buyer money into a virtual account.
func (c *Client) InitiateFunding(ctx context.Context, req FundingRequest) (*PaymentRef, error) {
	if req.Amount <= 0 {
		return nil, errAmountRequired
	}
	body := fundingBody{
		Amount:    req.Amount,
		Currency:  c.currency,
		Reference: req.Reference,
		Notes:     req.Notes,
	}
	path := "virtual_accounts/" + req.AccountExternalID + "/payments"
	c.log(ctx, "request", "initiate_funding", map[string]any{"virtual_account_id": req.AccountExternalID, "amount": req.Amount})

	var out PaymentRef
	if err := c.do(ctx, "initiate_funding", http.MethodPost, path, body, nil, &out); err != nil {
		return nil, err
	}
	c.log(ctx, "response", "initiate_funding", map[string]any{"payment_id": out.ID, "status": out.Status})
	return &out, nil
}

// CreatePayout sends money out of escrow. The reference doubles as the gateway idempotency key.
func (c *Client) CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	if req.Amount <= 0 {
		return nil, errAmountRequired
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, errors.New("payout reference is required")
	}
	body := payoutBody{
		AccountNumber: c.sourceAccount,
		FundAccountID: req.FundAccountExternalID,
		Amount:        req.Amount,
		Currency:      c.currency,
		Mode:          payoutModeIMPS,
		Purpose:       req.Purpose,
		ReferenceID:   req.Reference,
		Narration:     req.Narration,
		Notes:         req.Notes,
	}
	headers := map[string]string{idempotencyHeader: req.Reference}
	c.log(ctx, "request", "create_payout", map[string]any{
		"fund_account_id": req.FundAccountExternalID,
		"amount":          req.Amount,
		"reference":       req.Reference,
		"purpose":         req.Purpose,
	})

	var out PayoutResult
	if err := c.do(ctx, "create_payout", http.MethodPost, "payouts", body, headers, &out); err != nil {
		return nil, err
	}
	c.log(ctx, "response", "create_payout", map[string]any{"payout_id": out.ID, "status": out.Status})
	return &out, nil
}

func (c *Client) GetAccountPayments(ctx context.Context, accountExternalID string) ([]PaymentRef, error) {
	path := "virtual_accounts/" + accountExternalID + "/payments"
	var out paymentList
	if err := c.do(ctx, "get_account_payments", http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) GetPayout(ctx context.Context, payoutID string) (*PayoutResult, error) {
	var out PayoutResult
	if err := c.do(ctx, "get_payout", http.MethodGet, "payouts/"+payoutID, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, headers map[string]string, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.Observe(op, time.Since(start), err)
		if err != nil {
			c.log(ctx, "error", op, map[string]any{"error": err.Error()})
			err = mapGatewayError(err, strings.ReplaceAll(op, "_", " "))
		}
	}()

	target := c.baseURL.ResolveReference(&url.URL{Path: path})

	var reader io.Reader
	if body != nil {
		payload, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf("encoding request: %w", marshalErr)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding gateway response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var parsed errorBody
	if len(raw) > 0 && json.Unmarshal(raw, &parsed) == nil && parsed.Error.Code != "" {
		apiErr.Code = parsed.Error.Code
		apiErr.Description = parsed.Error.Description
	} else {
		apiErr.Code = http.StatusText(resp.StatusCode)
		apiErr.Description = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("gateway %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("gateway %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"account_number", "card", "secret", "email", "phone", "ifsc"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

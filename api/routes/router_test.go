package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrow-ledger/internal/escrow"
	gatewaywebhook "github.com/angelmondragon/escrow-ledger/internal/webhooks/gateway"
	pkgAuth "github.com/angelmondragon/escrow-ledger/pkg/auth"
	"github.com/angelmondragon/escrow-ledger/pkg/config"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
	"github.com/angelmondragon/escrow-ledger/pkg/metrics"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
	hits map[string]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}, hits: map[string]int64{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits[scope]++
	return m.hits[scope] <= limit, m.hits[scope], nil
}

type stubEscrow struct {
	escrow.Service
	mu    sync.Mutex
	funds int
}

func (s *stubEscrow) FundEscrowAccount(_ context.Context, _ uuid.UUID, _ int64, _ uuid.UUID) (*escrow.FundingDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funds++
	return &escrow.FundingDTO{PaymentID: fmt.Sprintf("pay_%d", s.funds)}, nil
}

func (s *stubEscrow) GetUserEscrowAccounts(context.Context, uuid.UUID) ([]escrow.AccountDTO, error) {
	return []escrow.AccountDTO{}, nil
}

type stubWebhook struct{}

func (stubWebhook) HandleEvent(context.Context, []byte, string, string) (*gatewaywebhook.Result, error) {
	return &gatewaywebhook.Result{EventID: "evt_1", Status: enums.WebhookStatusProcessed}, nil
}

type testRouter struct {
	handler http.Handler
	escrow  *stubEscrow
	cfg     *config.Config
}

func newTestRouter(t *testing.T) testRouter {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "escrow-ledger", ExpirationMinutes: 30},
		RateLimit: config.RateLimitConfig{
			WebhookWindow: time.Minute,
			WebhookLimit:  100,
			APIWindow:     time.Minute,
			APILimit:      100,
		},
	}
	reg := prometheus.NewRegistry()
	stub := &stubEscrow{}
	handler := NewRouter(Params{
		Config:         cfg,
		Logger:         logger.New(logger.Options{ServiceName: "router-test", Output: &strings.Builder{}}),
		DB:             stubPinger{},
		Redis:          stubPinger{},
		Store:          newMemoryStore(),
		Escrow:         stub,
		GatewayWebhook: stubWebhook{},
		Gatherer:       reg,
		HTTPMetrics:    metrics.NewHTTPMetrics(reg),
	})
	return testRouter{handler: handler, escrow: stub, cfg: cfg}
}

func (tr testRouter) token(t *testing.T) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(tr.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: uuid.New()})
	require.NoError(t, err)
	return token
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	tr := newTestRouter(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		tr.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestEscrowRoutesRequireAuth(t *testing.T) {
	tr := newTestRouter(t)

	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/escrow/accounts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEscrowAccountsRoute(t *testing.T) {
	tr := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/escrow/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+tr.token(t))
	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFundRouteIsIdempotent(t *testing.T) {
	tr := newTestRouter(t)
	token := tr.token(t)
	path := "/api/v1/escrow/contracts/" + uuid.NewString() + "/fund"

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"amount":5000}`))
		req.Header.Set("Authorization", "Bearer "+token)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rec := httptest.NewRecorder()
		tr.handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, send("").Code)

	first := send("fund-1")
	require.Equal(t, http.StatusAccepted, first.Code)
	second := send("fund-1")
	require.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, tr.escrow.funds)
}

func TestGatewayWebhookRoute(t *testing.T) {
	tr := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", strings.NewReader(`{}`))
	req.Header.Set("X-Gateway-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

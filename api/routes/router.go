package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/escrow-ledger/api/controllers"
	escrowcontrollers "github.com/angelmondragon/escrow-ledger/api/controllers/escrow"
	webhookcontrollers "github.com/angelmondragon/escrow-ledger/api/controllers/webhooks"
	"github.com/angelmondragon/escrow-ledger/api/middleware"
	"github.com/angelmondragon/escrow-ledger/internal/escrow"
	"github.com/angelmondragon/escrow-ledger/pkg/config"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
	"github.com/angelmondragon/escrow-ledger/pkg/metrics"
	pkgredis "github.com/angelmondragon/escrow-ledger/pkg/redis"
)

// KeyStore is the redis surface behind the idempotency and rate limit middleware.
type KeyStore interface {
	pkgredis.IdempotencyStore
	middleware.RateLimitStore
}

// Params wires the HTTP surface. Gatherer and HTTPMetrics are optional.
type Params struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             controllers.Pinger
	Redis          controllers.Pinger
	Store          KeyStore
	Escrow         escrow.Service
	GatewayWebhook webhookcontrollers.GatewayWebhookService
	Gatherer       prometheus.Gatherer
	HTTPMetrics    *metrics.HTTPMetrics
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.HTTPMetrics),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    p.DB,
			"redis": p.Redis,
		}))
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	webhookPolicy := middleware.NewRateLimitPolicy("webhook", cfg.RateLimit.WebhookWindow, cfg.RateLimit.WebhookLimit)
	apiPolicy := middleware.NewRateLimitPolicy("api", cfg.RateLimit.APIWindow, cfg.RateLimit.APILimit)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit(webhookPolicy, p.Store, logg))
		r.Post("/gateway", webhookcontrollers.GatewayWebhook(p.GatewayWebhook, logg))
	})

	r.Route("/api/v1/escrow", func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.RateLimit(apiPolicy, p.Store, logg),
			middleware.Idempotency(p.Store, logg),
		)

		r.Route("/contracts/{contractId}", func(r chi.Router) {
			r.Get("/", escrowcontrollers.GetContractAccount(p.Escrow, logg))
			r.Post("/account", escrowcontrollers.CreateAccount(p.Escrow, logg))
			r.Post("/fund", escrowcontrollers.Fund(p.Escrow, logg))
			r.Get("/transactions", escrowcontrollers.ListContractTransactions(p.Escrow, logg))
		})

		r.Route("/milestones/{milestoneId}", func(r chi.Router) {
			r.Post("/release", escrowcontrollers.Release(p.Escrow, logg))
			r.Post("/dispute", escrowcontrollers.Dispute(p.Escrow, logg))
			r.Post("/resolve", escrowcontrollers.Resolve(p.Escrow, logg))
		})

		r.Get("/accounts", escrowcontrollers.ListAccounts(p.Escrow, logg))
		r.Post("/accounts/{accountId}/refund", escrowcontrollers.Refund(p.Escrow, logg))
		r.Get("/transactions/{transactionId}", escrowcontrollers.GetTransaction(p.Escrow, logg))
		r.Post("/fund-accounts", escrowcontrollers.RegisterFundAccount(p.Escrow, logg))
		r.Get("/wallet", escrowcontrollers.Wallet(p.Escrow, logg))
	})

	return r
}

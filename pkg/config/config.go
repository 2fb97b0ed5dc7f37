package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Gateway      GatewayConfig
	Escrow       EscrowConfig
	Reconcile    ReconcileConfig
	RateLimit    RateLimitConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ESCROW_APP_ENV" required:"true"`
	Port         string `envconfig:"ESCROW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ESCROW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ESCROW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ESCROW_SERVICE_KIND" default:"api"`

	// MetricsAddr serves /metrics for workers; empty disables it.
	MetricsAddr string `envconfig:"ESCROW_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"ESCROW_DB_DSN"`
	Driver string `envconfig:"ESCROW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ESCROW_DB_HOST"`
	LegacyPort     int    `envconfig:"ESCROW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ESCROW_DB_USER"`
	LegacyPassword string `envconfig:"ESCROW_DB_PASSWORD"`
	LegacyName     string `envconfig:"ESCROW_DB_NAME"`
	LegacySSLMode  string `envconfig:"ESCROW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ESCROW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ESCROW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ESCROW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ESCROW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ESCROW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ESCROW_REDIS_ADDR"`
	Password     string        `envconfig:"ESCROW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ESCROW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ESCROW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ESCROW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ESCROW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ESCROW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ESCROW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies bearer tokens minted by the upstream session service.
type JWTConfig struct {
	Secret            string `envconfig:"ESCROW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ESCROW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ESCROW_JWT_EXPIRATION_MINUTES" default:"60"`

	// Leeway tolerates clock skew against the session service.
	Leeway time.Duration `envconfig:"ESCROW_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ESCROW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ESCROW_AUTO_MIGRATE" default:"false"`
}

// GatewayConfig holds the payment gateway credentials and endpoints.
type GatewayConfig struct {
	BaseURL             string        `envconfig:"ESCROW_GATEWAY_BASE_URL" required:"true"`
	KeyID               string        `envconfig:"ESCROW_GATEWAY_KEY_ID" required:"true"`
	KeySecret           string        `envconfig:"ESCROW_GATEWAY_KEY_SECRET" required:"true"`
	WebhookSecret       string        `envconfig:"ESCROW_GATEWAY_WEBHOOK_SECRET" required:"true"`
	SourceAccountNumber string        `envconfig:"ESCROW_GATEWAY_SOURCE_ACCOUNT_NUMBER"`
	Currency            string        `envconfig:"ESCROW_GATEWAY_CURRENCY" default:"INR"`
	Timeout             time.Duration `envconfig:"ESCROW_GATEWAY_TIMEOUT" default:"15s"`
}

func (g GatewayConfig) validate() error {
	if _, err := url.ParseRequestURI(g.BaseURL); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvGatewayBaseURL, err)
	}
	return nil
}

// NormalizedCurrency returns the ISO currency code in upper case.
func (g GatewayConfig) NormalizedCurrency() string {
	cur := strings.ToUpper(strings.TrimSpace(g.Currency))
	if cur == "" {
		return "INR"
	}
	return cur
}

type EscrowConfig struct {
	ReleaseClaimTTL      time.Duration `envconfig:"ESCROW_RELEASE_CLAIM_TTL" default:"2m"`
	RefreshBalanceOnRead bool          `envconfig:"ESCROW_REFRESH_BALANCE_ON_READ" default:"true"`
}

type ReconcileConfig struct {
	Interval           time.Duration `envconfig:"ESCROW_RECONCILE_INTERVAL" default:"1m"`
	BatchLimit         int           `envconfig:"ESCROW_RECONCILE_BATCH_LIMIT" default:"100"`
	MaxWebhookAttempts int           `envconfig:"ESCROW_RECONCILE_MAX_WEBHOOK_ATTEMPTS" default:"8"`
	PayoutLookback     time.Duration `envconfig:"ESCROW_RECONCILE_PAYOUT_LOOKBACK" default:"10m"`
	OutboxRetention    time.Duration `envconfig:"ESCROW_RECONCILE_OUTBOX_RETENTION" default:"720h"`
}

// RateLimitConfig bounds request volume per caller. A zero limit disables the policy.
type RateLimitConfig struct {
	WebhookWindow time.Duration `envconfig:"ESCROW_RATE_LIMIT_WEBHOOK_WINDOW" default:"1m"`
	WebhookLimit  int           `envconfig:"ESCROW_RATE_LIMIT_WEBHOOK_LIMIT" default:"600"`
	APIWindow     time.Duration `envconfig:"ESCROW_RATE_LIMIT_API_WINDOW" default:"1m"`
	APILimit      int           `envconfig:"ESCROW_RATE_LIMIT_API_LIMIT" default:"120"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ESCROW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ESCROW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ESCROW_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ESCROW_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ESCROW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ESCROW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EscrowTopic        string `envconfig:"ESCROW_PUBSUB_ESCROW_TOPIC" default:"escrow-events"`
	EscrowSubscription string `envconfig:"ESCROW_PUBSUB_ESCROW_SUBSCRIPTION"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

package config

const (
	EnvPrefix = "ESCROW"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "ESCROW_APP_ENV"
	EnvPort     = "ESCROW_APP_PORT"
	EnvLogLevel = "ESCROW_LOG_LEVEL"

	EnvDBDSN  = "ESCROW_DB_DSN"
	EnvDBHost = "ESCROW_DB_HOST"
	EnvDBUser = "ESCROW_DB_USER"
	EnvDBName = "ESCROW_DB_NAME"

	EnvRedisURL = "ESCROW_REDIS_URL"

	EnvJWTSecret = "ESCROW_JWT_SECRET"
	EnvJWTIssuer = "ESCROW_JWT_ISSUER"

	EnvGatewayBaseURL       = "ESCROW_GATEWAY_BASE_URL"
	EnvGatewayKeyID         = "ESCROW_GATEWAY_KEY_ID"
	EnvGatewayKeySecret     = "ESCROW_GATEWAY_KEY_SECRET"
	EnvGatewayWebhookSecret = "ESCROW_GATEWAY_WEBHOOK_SECRET"

	EnvReleaseClaimTTL = "ESCROW_RELEASE_CLAIM_TTL"
	EnvPubSubTopic     = "ESCROW_PUBSUB_ESCROW_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

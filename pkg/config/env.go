package config

const (
	EnvPrefix = "MARKETPAY"

	AppEnvDev     = "dev"
	AppEnvStaging = "staging"
	AppEnvProd    = "prod"

	defaultSQLiteDSN = "file:marketpay.db?cache=shared&_foreign_keys=on"
)

const (
	EnvAppEnv       = "MARKETPAY_APP_ENV"
	EnvPort         = "MARKETPAY_APP_PORT"
	EnvLogLevel     = "MARKETPAY_LOG_LEVEL"
	EnvLogWarnStack = "MARKETPAY_LOG_WARN_STACK"
	EnvLogFormat    = "MARKETPAY_LOG_FORMAT"

	EnvDBDSN      = "MARKETPAY_DB_DSN"
	EnvDBHost     = "MARKETPAY_DB_HOST"
	EnvDBPort     = "MARKETPAY_DB_PORT"
	EnvDBUser     = "MARKETPAY_DB_USER"
	EnvDBPassword = "MARKETPAY_DB_PASSWORD"
	EnvDBName     = "MARKETPAY_DB_NAME"

	EnvRedisURL       = "MARKETPAY_REDIS_URL"
	EnvRedisKeyPrefix = "MARKETPAY_REDIS_KEY_PREFIX"

	EnvUseSQLite              = "MARKETPAY_USE_SQLITE"
	EnvStrictOrderTransitions = "MARKETPAY_STRICT_ORDER_TRANSITIONS"

	EnvBillingBaseURL   = "MARKETPAY_BILLING_BASE_URL"
	EnvBillingAPIID     = "MARKETPAY_BILLING_API_ID"
	EnvBillingAPISecret = "MARKETPAY_BILLING_API_SECRET"
	EnvBillingTimeout   = "MARKETPAY_BILLING_TIMEOUT"

	EnvFeesServiceRate = "MARKETPAY_FEES_SERVICE_RATE"
	EnvFeesTolerance   = "MARKETPAY_FEES_TOLERANCE_CENTS"

	EnvPaymentsPendingTTL = "MARKETPAY_PAYMENTS_PENDING_TTL"
	EnvPaymentsBillTTL    = "MARKETPAY_PAYMENTS_BILL_TTL"
	EnvCronInterval       = "MARKETPAY_CRON_INTERVAL"

	EnvGCPProjectID      = "MARKETPAY_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic = "MARKETPAY_PUBSUB_ORDERS_TOPIC"
	EnvMetricsAddr       = "MARKETPAY_METRICS_ADDR"

	EnvOutboxRetention    = "MARKETPAY_OUTBOX_RETENTION"
	EnvOutboxDLQRetention = "MARKETPAY_OUTBOX_DLQ_RETENTION"
	EnvOutboxMaxAttempts  = "MARKETPAY_OUTBOX_MAX_ATTEMPTS"
)

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Billing      BillingConfig
	Fees         FeesConfig
	Payments     PaymentsConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

// Load reads the MARKETPAY_* environment. Every invalid value is reported,
// not just the first.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	if err := c.DB.ensureDSN(c.FeatureFlags.UseSQLite); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Fees.Rate(); err != nil {
		errs = append(errs, err)
	}
	format := strings.ToLower(c.App.LogFormat)
	check(format == "json" || format == "console", "%s must be json or console, got %q", EnvLogFormat, c.App.LogFormat)
	check(c.Fees.ToleranceCents >= 0, "%s must not be negative", EnvFeesTolerance)
	check(c.Outbox.MaxAttempts > 0, "%s must be positive", EnvOutboxMaxAttempts)
	check(c.Payments.BillTTL >= c.Payments.PendingTTL, "%s must not be shorter than %s", EnvPaymentsBillTTL, EnvPaymentsPendingTTL)
	check(c.Outbox.DLQRetention >= c.Outbox.Retention, "%s must not be shorter than %s", EnvOutboxDLQRetention, EnvOutboxRetention)
	check(strings.TrimSpace(c.Redis.KeyPrefix) != "", "%s must not be blank", EnvRedisKeyPrefix)
	return errors.Join(errs...)
}

type AppConfig struct {
	Env          string   `envconfig:"MARKETPAY_APP_ENV" required:"true"`
	Port         string   `envconfig:"MARKETPAY_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"MARKETPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"MARKETPAY_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"MARKETPAY_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"MARKETPAY_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETPAY_SERVICE_KIND" default:"api"`
	// MetricsAddr is where workers serve /metrics; empty disables it.
	MetricsAddr string `envconfig:"MARKETPAY_METRICS_ADDR" default:":9090"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETPAY_DB_DSN"`
	Driver string `envconfig:"MARKETPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETPAY_DB_USER"`
	LegacyPassword string `envconfig:"MARKETPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"MARKETPAY_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETPAY_REDIS_URL"`
	Address      string        `envconfig:"MARKETPAY_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"MARKETPAY_REDIS_KEY_PREFIX" default:"mp"`
}

// Enabled reports whether any redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite              bool `envconfig:"MARKETPAY_USE_SQLITE" default:"false"`
	AutoMigrate            bool `envconfig:"MARKETPAY_AUTO_MIGRATE" default:"false"`
	StrictOrderTransitions bool `envconfig:"MARKETPAY_STRICT_ORDER_TRANSITIONS" default:"true"`
}

type BillingConfig struct {
	BaseURL             string        `envconfig:"MARKETPAY_BILLING_BASE_URL" default:"https://lab.billing-easy.net/api/v1/merchant"`
	APIID               string        `envconfig:"MARKETPAY_BILLING_API_ID"`
	APISecret           string        `envconfig:"MARKETPAY_BILLING_API_SECRET"`
	Username            string        `envconfig:"MARKETPAY_BILLING_USERNAME"`
	SharedKey           string        `envconfig:"MARKETPAY_BILLING_SHARED_KEY"`
	Timeout             time.Duration `envconfig:"MARKETPAY_BILLING_TIMEOUT" default:"15s"`
	ExpiryPeriodMinutes int           `envconfig:"MARKETPAY_BILLING_EXPIRY_PERIOD_MINUTES" default:"60"`
	DefaultSystem       string        `envconfig:"MARKETPAY_BILLING_DEFAULT_SYSTEM" default:"airtelmoney"`
	VerifyLimit         int           `envconfig:"MARKETPAY_BILLING_VERIFY_LIMIT" default:"10"`
	VerifyWindow        time.Duration `envconfig:"MARKETPAY_BILLING_VERIFY_WINDOW" default:"1m"`
	VerifyLockTTL       time.Duration `envconfig:"MARKETPAY_BILLING_VERIFY_LOCK_TTL" default:"30s"`
}

// Configured reports whether credentials for the billing gateway are present.
func (b BillingConfig) Configured() bool {
	return strings.TrimSpace(b.APIID) != "" && strings.TrimSpace(b.APISecret) != ""
}

type FeesConfig struct {
	ServiceFeeRate string `envconfig:"MARKETPAY_FEES_SERVICE_RATE" default:"0.10"`
	ToleranceCents int64  `envconfig:"MARKETPAY_FEES_TOLERANCE_CENTS" default:"2"`
}

// Rate parses the configured service fee rate.
func (f FeesConfig) Rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(f.ServiceFeeRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %s: %w", EnvFeesServiceRate, err)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", EnvFeesServiceRate)
	}
	return rate, nil
}

type PaymentsConfig struct {
	PendingTTL         time.Duration `envconfig:"MARKETPAY_PAYMENTS_PENDING_TTL" default:"24h"`
	BillTTL            time.Duration `envconfig:"MARKETPAY_PAYMENTS_BILL_TTL" default:"72h"`
	ReconcileBatchSize int           `envconfig:"MARKETPAY_PAYMENTS_RECONCILE_BATCH_SIZE" default:"50"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"MARKETPAY_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"MARKETPAY_CRON_LOCK_TTL" default:"10m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MARKETPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MARKETPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MARKETPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic   string `envconfig:"MARKETPAY_PUBSUB_ORDERS_TOPIC" default:"marketpay-order-events"`
	PaymentsTopic string `envconfig:"MARKETPAY_PUBSUB_PAYMENTS_TOPIC" default:"marketpay-payment-events"`

	BatchCount int           `envconfig:"MARKETPAY_PUBSUB_BATCH_COUNT" default:"100"`
	BatchDelay time.Duration `envconfig:"MARKETPAY_PUBSUB_BATCH_DELAY" default:"10ms"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"MARKETPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"MARKETPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"MARKETPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	PublishTimeout time.Duration `envconfig:"MARKETPAY_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	Retention      time.Duration `envconfig:"MARKETPAY_OUTBOX_RETENTION" default:"720h"`
	DLQRetention   time.Duration `envconfig:"MARKETPAY_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

// ensureDSN fills DSN from the split MARKETPAY_DB_* variables when no DSN
// is set. SQLite falls back to a local file.
func (db *DBConfig) ensureDSN(useSQLite bool) error {
	switch {
	case db.DSN != "":
		return nil
	case useSQLite:
		db.DSN = defaultSQLiteDSN
		return nil
	}

	var missing []string
	for env, v := range map[string]string{EnvDBHost: db.LegacyHost, EnvDBUser: db.LegacyUser, EnvDBName: db.LegacyName} {
		if v == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.User(db.LegacyUser),
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   db.LegacyName,
	}
	if db.LegacyPassword != "" {
		u.User = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	if db.LegacySSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	db.DSN = u.String()
	return nil
}

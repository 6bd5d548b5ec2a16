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
	Stripe       StripeConfig
	Webhook      WebhookConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.App.IsProd() && strings.TrimSpace(c.Stripe.WebhookSecret) == "" {
		return fmt.Errorf("%s is required when %s=%s", EnvStripeWebhookSecret, EnvAppEnv, AppEnvProd)
	}
	if c.Webhook.ProcessingTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvWebhookProcessingTimeout)
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("%s must be positive", EnvWebhookMaxBodyBytes)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"BILLING_APP_ENV" required:"true"`
	Port         string `envconfig:"BILLING_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BILLING_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"BILLING_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"BILLING_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BILLING_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BILLING_DB_DSN"`
	Driver string `envconfig:"BILLING_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BILLING_DB_HOST"`
	LegacyPort     int    `envconfig:"BILLING_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BILLING_DB_USER"`
	LegacyPassword string `envconfig:"BILLING_DB_PASSWORD"`
	LegacyName     string `envconfig:"BILLING_DB_NAME"`
	LegacySSLMode  string `envconfig:"BILLING_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILLING_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILLING_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILLING_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILLING_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"BILLING_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"BILLING_REDIS_URL"`
	Address      string        `envconfig:"BILLING_REDIS_ADDR"`
	Password     string        `envconfig:"BILLING_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILLING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILLING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILLING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILLING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILLING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILLING_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type StripeConfig struct {
	APIKey             string        `envconfig:"BILLING_STRIPE_API_KEY"`
	WebhookSecret      string        `envconfig:"BILLING_STRIPE_WEBHOOK_SECRET"`
	Env                string        `envconfig:"BILLING_STRIPE_ENV" default:"test"`
	SignatureTolerance time.Duration `envconfig:"BILLING_STRIPE_SIGNATURE_TOLERANCE" default:"5m"`
	FetchSubscriptions bool          `envconfig:"BILLING_STRIPE_FETCH_SUBSCRIPTIONS" default:"false"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type WebhookConfig struct {
	ProcessingTimeout time.Duration `envconfig:"BILLING_WEBHOOK_PROCESSING_TIMEOUT" default:"5s"`
	MaxBodyBytes      int64         `envconfig:"BILLING_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
	InFlightTTL       time.Duration `envconfig:"BILLING_WEBHOOK_INFLIGHT_TTL" default:"2m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BILLING_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BILLING_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BILLING_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"BILLING_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic string `envconfig:"BILLING_PUBSUB_BILLING_TOPIC" default:"billing-events"`
	EmulatorHost string `envconfig:"BILLING_PUBSUB_EMULATOR_HOST"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BILLING_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BILLING_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BILLING_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"BILLING_CRON_INTERVAL" default:"15m"`
	JobTimeout          time.Duration `envconfig:"BILLING_CRON_JOB_TIMEOUT" default:"5m"`
	PurchaseRetryLimit  int           `envconfig:"BILLING_CRON_PURCHASE_RETRY_LIMIT" default:"100"`
	PurchaseMaxAttempts int           `envconfig:"BILLING_CRON_PURCHASE_MAX_ATTEMPTS" default:"5"`
	ReconcileLimit      int           `envconfig:"BILLING_CRON_RECONCILE_LIMIT" default:"100"`
	OutboxRetention     time.Duration `envconfig:"BILLING_CRON_OUTBOX_RETENTION" default:"720h"`
	DLQRetention        time.Duration `envconfig:"BILLING_CRON_DLQ_RETENTION" default:"2160h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:billing.db?cache=shared&_foreign_keys=on"
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

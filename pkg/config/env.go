package config

const (
	EnvPrefix = "BILLING"

	AppEnvDev     = "dev"
	AppEnvStaging = "staging"
	AppEnvProd    = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv       = "BILLING_APP_ENV"
	EnvPort         = "BILLING_APP_PORT"
	EnvLogLevel     = "BILLING_LOG_LEVEL"
	EnvLogFormat    = "BILLING_LOG_FORMAT"
	EnvLogWarnStack = "BILLING_LOG_WARN_STACK"
	EnvServiceKind  = "BILLING_SERVICE_KIND"

	EnvDBDSN             = "BILLING_DB_DSN"
	EnvDBDriver          = "BILLING_DB_DRIVER"
	EnvDBHost            = "BILLING_DB_HOST"
	EnvDBPort            = "BILLING_DB_PORT"
	EnvDBUser            = "BILLING_DB_USER"
	EnvDBPassword        = "BILLING_DB_PASSWORD"
	EnvDBName            = "BILLING_DB_NAME"
	EnvDBSSLMode         = "BILLING_DB_SSLMODE"
	EnvDBMaxOpenConns    = "BILLING_DB_MAX_OPEN_CONNS"
	EnvDBMaxIdleConns    = "BILLING_DB_MAX_IDLE_CONNS"
	EnvDBConnMaxLifetime = "BILLING_DB_CONN_MAX_LIFETIME"
	EnvDBConnMaxIdleTime = "BILLING_DB_CONN_MAX_IDLE_TIME"
	EnvDBSlowQuery       = "BILLING_DB_SLOW_QUERY"

	EnvRedisURL          = "BILLING_REDIS_URL"
	EnvRedisAddr         = "BILLING_REDIS_ADDR"
	EnvRedisPassword     = "BILLING_REDIS_PASSWORD"
	EnvRedisDB           = "BILLING_REDIS_DB"
	EnvRedisPoolSize     = "BILLING_REDIS_POOL_SIZE"
	EnvRedisMinIdleConns = "BILLING_REDIS_MIN_IDLE_CONNS"
	EnvRedisDialTimeout  = "BILLING_REDIS_DIAL_TIMEOUT"
	EnvRedisReadTimeout  = "BILLING_REDIS_READ_TIMEOUT"
	EnvRedisWriteTimeout = "BILLING_REDIS_WRITE_TIMEOUT"

	EnvStripeAPIKey             = "BILLING_STRIPE_API_KEY"
	EnvStripeWebhookSecret      = "BILLING_STRIPE_WEBHOOK_SECRET"
	EnvStripeEnv                = "BILLING_STRIPE_ENV"
	EnvStripeSignatureTolerance = "BILLING_STRIPE_SIGNATURE_TOLERANCE"
	EnvStripeFetchSubscriptions = "BILLING_STRIPE_FETCH_SUBSCRIPTIONS"

	EnvWebhookProcessingTimeout = "BILLING_WEBHOOK_PROCESSING_TIMEOUT"
	EnvWebhookMaxBodyBytes      = "BILLING_WEBHOOK_MAX_BODY_BYTES"
	EnvWebhookInFlightTTL       = "BILLING_WEBHOOK_INFLIGHT_TTL"

	EnvUseSQLite   = "BILLING_USE_SQLITE"
	EnvAutoMigrate = "BILLING_AUTO_MIGRATE"

	EnvGCPProjectID       = "BILLING_GCP_PROJECT_ID"
	EnvGCPCredentialsJSON = "BILLING_GCP_CREDENTIALS_JSON"
	EnvGCPAppCredentials  = "GOOGLE_APPLICATION_CREDENTIALS"

	EnvPubSubBillingTopic = "BILLING_PUBSUB_BILLING_TOPIC"
	EnvPubSubEmulatorHost = "BILLING_PUBSUB_EMULATOR_HOST"

	EnvOutboxBatchSize   = "BILLING_OUTBOX_PUBLISH_BATCH_SIZE"
	EnvOutboxPollMS      = "BILLING_OUTBOX_PUBLISH_POLL_MS"
	EnvOutboxMaxAttempts = "BILLING_OUTBOX_MAX_ATTEMPTS"

	EnvCronInterval            = "BILLING_CRON_INTERVAL"
	EnvCronJobTimeout          = "BILLING_CRON_JOB_TIMEOUT"
	EnvCronPurchaseRetryLimit  = "BILLING_CRON_PURCHASE_RETRY_LIMIT"
	EnvCronPurchaseMaxAttempts = "BILLING_CRON_PURCHASE_MAX_ATTEMPTS"
	EnvCronReconcileLimit      = "BILLING_CRON_RECONCILE_LIMIT"
	EnvCronOutboxRetention     = "BILLING_CRON_OUTBOX_RETENTION"
	EnvCronDLQRetention        = "BILLING_CRON_DLQ_RETENTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

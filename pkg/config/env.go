package config

const (
	EnvPrefix = "OILSHOP"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	OutboxSinkPubSub = "pubsub"
	OutboxSinkKafka  = "kafka"
)

const (
	EnvAppEnv        = "OILSHOP_APP_ENV"
	EnvPort          = "OILSHOP_APP_PORT"
	EnvDBDSN         = "OILSHOP_DB_DSN"
	EnvDBHost        = "OILSHOP_DB_HOST"
	EnvDBUser        = "OILSHOP_DB_USER"
	EnvDBName        = "OILSHOP_DB_NAME"
	EnvRedisURL      = "OILSHOP_REDIS_URL"
	EnvJWTSecret     = "OILSHOP_JWT_SECRET"
	EnvJWTIssuer     = "OILSHOP_JWT_ISSUER"
	EnvGCPProjectID  = "OILSHOP_GCP_PROJECT_ID"
	EnvGCSBucket     = "OILSHOP_GCS_BUCKET_NAME"
	EnvShopsFile     = "OILSHOP_SHOPS_FILE"
	EnvOutboxSink    = "OILSHOP_OUTBOX_SINK"
	EnvKafkaBrokers  = "OILSHOP_KAFKA_BROKERS"
	EnvNexiTimeout   = "OILSHOP_NEXI_TIMEOUT"
	EnvNexiSecret    = "OILSHOP_NEXI_WEBHOOK_SECRET"
	EnvLogFormat     = "OILSHOP_LOG_FORMAT"
	EnvServiceKind   = "OILSHOP_SERVICE_KIND"
	EnvAutoMigrate   = "OILSHOP_AUTO_MIGRATE"
	EnvPubSubOrders  = "OILSHOP_PUBSUB_ORDERS_TOPIC"
	EnvSendgridKey   = "OILSHOP_SENDGRID_API_KEY"
	EnvSendgridFrom  = "OILSHOP_SENDGRID_FROM_EMAIL"
	EnvGCSInvoiceDir = "OILSHOP_GCS_INVOICE_PREFIX"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	Service  ServiceConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Shops    ShopsConfig
	Eventing EventingConfig
	Nexi     NexiConfig
	GCP      GCPConfig
	GCS      GCSConfig
	PubSub   PubSubConfig
	BigQuery BigQueryConfig
	Kafka    KafkaConfig
	Sendgrid SendgridConfig
	Outbox   OutboxConfig
	Limits   RateLimitConfig
	Cron     CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TokenToolConfig is the subset read by the operator token CLI, which needs
// neither the database nor cloud credentials.
type TokenToolConfig struct {
	JWT   JWTConfig
	Redis RedisConfig
}

func LoadTokenTool() (*TokenToolConfig, error) {
	var cfg TokenToolConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"OILSHOP_APP_ENV" required:"true"`
	Port         string `envconfig:"OILSHOP_APP_PORT" required:"true"`
	PublicURL    string `envconfig:"OILSHOP_PUBLIC_URL" default:"http://localhost:8080"`
	LogLevel     string `envconfig:"OILSHOP_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"OILSHOP_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"OILSHOP_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"OILSHOP_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"OILSHOP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"OILSHOP_DB_DSN"`
	Driver string `envconfig:"OILSHOP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"OILSHOP_DB_HOST"`
	LegacyPort     int    `envconfig:"OILSHOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"OILSHOP_DB_USER"`
	LegacyPassword string `envconfig:"OILSHOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"OILSHOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"OILSHOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"OILSHOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"OILSHOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"OILSHOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"OILSHOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"OILSHOP_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"OILSHOP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"OILSHOP_REDIS_ADDR"`
	Password     string        `envconfig:"OILSHOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"OILSHOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"OILSHOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"OILSHOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"OILSHOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"OILSHOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"OILSHOP_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"OILSHOP_REDIS_KEY_PREFIX" default:"oil"`
}

// JWTConfig covers the bearer tokens issued to back-office operators.
type JWTConfig struct {
	Secret            string `envconfig:"OILSHOP_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"OILSHOP_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"OILSHOP_JWT_EXPIRATION_MINUTES" default:"480"`
}

// TokenTTL is the lifetime of an operator token and its session record.
func (j JWTConfig) TokenTTL() time.Duration {
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// RateLimitConfig throttles the public storefront endpoints per client IP
// and per customer email. A zero limit disables that counter.
type RateLimitConfig struct {
	Window             time.Duration `envconfig:"OILSHOP_RATE_LIMIT_WINDOW" default:"1m"`
	CheckoutIPLimit    int           `envconfig:"OILSHOP_RATE_LIMIT_CHECKOUT_IP" default:"20"`
	CheckoutEmailLimit int           `envconfig:"OILSHOP_RATE_LIMIT_CHECKOUT_EMAIL" default:"5"`
	QuoteIPLimit       int           `envconfig:"OILSHOP_RATE_LIMIT_QUOTE_IP" default:"120"`
}

type ShopsConfig struct {
	File string `envconfig:"OILSHOP_SHOPS_FILE" default:"config/shops.yaml"`
}

type EventingConfig struct {
	WebhookDedupTTL       time.Duration `envconfig:"OILSHOP_WEBHOOK_DEDUP_TTL" default:"168h"`
	HTTPIdempotencyEnable bool          `envconfig:"OILSHOP_HTTP_IDEMPOTENCY_ENABLED" default:"true"`
	ConsumerDedupTTL      time.Duration `envconfig:"OILSHOP_CONSUMER_DEDUP_TTL" default:"168h"`
}

// NexiConfig configures the Pay by Link gateway.
type NexiConfig struct {
	BaseURL       string        `envconfig:"OILSHOP_NEXI_BASE_URL" default:"https://xpay.nexigroup.com/api/phoenix-0.0/psp/api/v1"`
	APIKey        string        `envconfig:"OILSHOP_NEXI_API_KEY"`
	WebhookSecret string        `envconfig:"OILSHOP_NEXI_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"OILSHOP_NEXI_TIMEOUT" default:"15s"`
	FallbackURL   string        `envconfig:"OILSHOP_NEXI_REDIRECT_FALLBACK_URL" default:"/"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"OILSHOP_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"OILSHOP_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"OILSHOP_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName    string `envconfig:"OILSHOP_GCS_BUCKET_NAME" required:"true"`
	InvoicePrefix string `envconfig:"OILSHOP_GCS_INVOICE_PREFIX" default:"invoices"`
	PublicBaseURL string `envconfig:"OILSHOP_GCS_PUBLIC_BASE_URL" default:"https://storage.googleapis.com"`
}

type PubSubConfig struct {
	OrdersTopic           string `envconfig:"OILSHOP_PUBSUB_ORDERS_TOPIC" default:"oilshop-order-events"`
	AnalyticsSubscription string `envconfig:"OILSHOP_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"oilshop-order-events-analytics"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"OILSHOP_BIGQUERY_DATASET" default:"oilshop"`
	OrderEventsTable string `envconfig:"OILSHOP_BIGQUERY_ORDER_EVENTS_TABLE" default:"order_events"`
	BatchSize        int    `envconfig:"OILSHOP_BIGQUERY_BATCH_SIZE" default:"1"`
}

type KafkaConfig struct {
	Brokers []string `envconfig:"OILSHOP_KAFKA_BROKERS"`
	Topic   string   `envconfig:"OILSHOP_KAFKA_TOPIC" default:"oilshop.orders"`
}

type SendgridConfig struct {
	APIKey        string        `envconfig:"OILSHOP_SENDGRID_API_KEY"`
	DefaultFrom   string        `envconfig:"OILSHOP_SENDGRID_FROM_EMAIL" default:"orders@oilshop.example"`
	FromName      string        `envconfig:"OILSHOP_SENDGRID_FROM_NAME" default:"Heizöl Bestellung"`
	QueuedTimeout time.Duration `envconfig:"OILSHOP_EMAIL_QUEUED_TIMEOUT" default:"15m"`
}

type OutboxConfig struct {
	Sink           string `envconfig:"OILSHOP_OUTBOX_SINK" default:"pubsub"`
	BatchSize      int    `envconfig:"OILSHOP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"OILSHOP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"OILSHOP_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	IntervalMinutes     int `envconfig:"OILSHOP_CRON_INTERVAL_MINUTES" default:"15"`
	OutboxRetentionDays int `envconfig:"OILSHOP_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
	EmailMaxAttempts    int `envconfig:"OILSHOP_CRON_EMAIL_MAX_ATTEMPTS" default:"5"`
	BatchSize           int `envconfig:"OILSHOP_CRON_BATCH_SIZE" default:"25"`
}

// UsesKafka reports whether the outbox publisher relays to Kafka instead of Pub/Sub.
func (o OutboxConfig) UsesKafka() bool {
	return strings.EqualFold(strings.TrimSpace(o.Sink), OutboxSinkKafka)
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

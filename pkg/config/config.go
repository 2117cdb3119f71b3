package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "commerce"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Payments     PaymentsConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Checkout     CheckoutConfig
	Security     SecurityConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	JWT          JWTConfig
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

type AppConfig struct {
	Env          string `envconfig:"COMMERCE_APP_ENV" default:"dev"`
	Port         string `envconfig:"COMMERCE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"COMMERCE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"COMMERCE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"COMMERCE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"COMMERCE_DB_DSN"`
	Driver string `envconfig:"COMMERCE_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"COMMERCE_DB_HOST"`
	Port     int    `envconfig:"COMMERCE_DB_PORT" default:"5432"`
	User     string `envconfig:"COMMERCE_DB_USER"`
	Password string `envconfig:"COMMERCE_DB_PASSWORD"`
	Name     string `envconfig:"COMMERCE_DB_NAME"`
	SSLMode  string `envconfig:"COMMERCE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COMMERCE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COMMERCE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COMMERCE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COMMERCE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("either COMMERCE_DB_DSN or host/user/name settings are required")
	}
	d.DSN = fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"COMMERCE_REDIS_URL"`
	Address      string        `envconfig:"COMMERCE_REDIS_ADDR"`
	Password     string        `envconfig:"COMMERCE_REDIS_PASSWORD"`
	DB           int           `envconfig:"COMMERCE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COMMERCE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COMMERCE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COMMERCE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COMMERCE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COMMERCE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type PaymentsConfig struct {
	GatewayTimeout     time.Duration `envconfig:"COMMERCE_PAYMENTS_GATEWAY_TIMEOUT" default:"15s"`
	WebhookDedupeTTL   time.Duration `envconfig:"COMMERCE_PAYMENTS_WEBHOOK_DEDUPE_TTL" default:"168h"`
	MaxDispatchRetries int           `envconfig:"COMMERCE_PAYMENTS_MAX_DISPATCH_RETRIES" default:"3"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"COMMERCE_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"COMMERCE_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"COMMERCE_STRIPE_ENV" default:"test"`
}

func (s StripeConfig) Environment() string {
	return s.Env
}

type SquareConfig struct {
	AccessToken    string `envconfig:"COMMERCE_SQUARE_ACCESS_TOKEN"`
	WebhookSecret  string `envconfig:"COMMERCE_SQUARE_WEBHOOK_SECRET"`
	Environment    string `envconfig:"COMMERCE_SQUARE_ENVIRONMENT" default:"sandbox"`
	LocationID     string `envconfig:"COMMERCE_SQUARE_LOCATION_ID"`
}

type CheckoutConfig struct {
	CartTTL                 time.Duration `envconfig:"COMMERCE_CHECKOUT_CART_TTL" default:"240h"`
	GuestMergeRepriceWindow time.Duration `envconfig:"COMMERCE_CHECKOUT_GUEST_MERGE_REPRICE_WINDOW" default:"10m"`
}

type SecurityConfig struct {
	// CredentialKey is the base64-encoded 32-byte master key sealing gateway
	// configuration blobs at rest.
	CredentialKey string `envconfig:"COMMERCE_SECURITY_CREDENTIAL_KEY"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"COMMERCE_FEATURE_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"COMMERCE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"COMMERCE_PUBSUB_DOMAIN_TOPIC" default:"commerce-domain-events"`
	DomainSubscription string `envconfig:"COMMERCE_PUBSUB_DOMAIN_SUBSCRIPTION" default:"commerce-domain-events-sub"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"COMMERCE_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"COMMERCE_OUTBOX_POLL_INTERVAL_MS" default:"500"`
	MaxAttempts    int `envconfig:"COMMERCE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type JWTConfig struct {
	Secret            string `envconfig:"COMMERCE_JWT_SECRET"`
	Issuer            string `envconfig:"COMMERCE_JWT_ISSUER" default:"commerce-core"`
	ExpirationMinutes int    `envconfig:"COMMERCE_JWT_EXPIRATION_MINUTES" default:"60"`
}

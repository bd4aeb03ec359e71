// Package config defines the configuration of the llcstack payment-intake
// service. It is loaded once at process start (or Lambda cold start) and is
// read-only afterwards.
//
// Values are resolved in priority order:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"llcstack/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types just to unmask a key.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Components receive only the
// sub-struct they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"llcstack-payments"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Pricing       PricingConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// MaintenanceConfig configures the scheduled ledger maintenance job.
type MaintenanceConfig struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"llcstack-maintenance"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database DatabaseConfig
	AWS      AWSConfig

	// AbandonAfter must exceed the processor's redelivery window (3 days).
	AbandonAfter     time.Duration `envconfig:"CLAIM_ABANDON_AFTER" default:"72h" validate:"gt=0"`
	SettledRetention time.Duration `envconfig:"CLAIM_SETTLED_RETENTION" default:"2160h" validate:"gt=0"`
	BatchLimit       int           `envconfig:"MAINTENANCE_BATCH_LIMIT" default:"500" validate:"gte=1"`
	RateLimitGrace   time.Duration `envconfig:"RATE_LIMIT_PURGE_GRACE" default:"1h" validate:"gte=0"`

	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// SiteURL is the storefront origin used for checkout redirects.
	SiteURL        string        `envconfig:"NEXT_PUBLIC_SITE_URL" default:"https://llcstack.com" validate:"required,url"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s" validate:"gt=0"`
}

// DatabaseConfig holds the optional processed-event ledger connection. When
// URL is empty the reconciler runs without duplicate-delivery protection.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"5" validate:"gte=1"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	ClaimStaleAfter time.Duration `envconfig:"DEFERRED_CLAIM_STALE_AFTER" default:"15m" validate:"gt=0"`
}

// Enabled reports whether a ledger database is configured.
func (c DatabaseConfig) Enabled() bool {
	return !c.URL.IsZero()
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// FailureQueueURL receives reconcile failures. Optional.
	FailureQueueURL string `envconfig:"RECONCILE_FAILURE_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// BillingConfig holds the Stripe credentials and client tuning.
type BillingConfig struct {
	StripeSecretKey SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	// StripeWebhookSecret may be empty; the webhook endpoint then rejects
	// every delivery with a configuration error.
	StripeWebhookSecret SecretString  `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIBase       string        `envconfig:"STRIPE_API_BASE" default:"https://api.stripe.com" validate:"url"`
	StripeTimeout       time.Duration `envconfig:"STRIPE_TIMEOUT" default:"20s" validate:"gt=0"`
	WebhookTolerance    time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"300s" validate:"gt=0"`
}

// PricingConfig holds the recurring price references and an optional
// catalog override.
type PricingConfig struct {
	RAYearlyPriceID    string `envconfig:"RA_YEARLY_PRICE_ID"`
	MailMonthlyPriceID string `envconfig:"MAIL_MONTHLY_PRICE_ID"`
	// CatalogJSON replaces the built-in state and one-time fee table.
	CatalogJSON string `envconfig:"PRICING_CATALOG_JSON" validate:"omitempty,json"`
}

// SecurityConfig holds browser-facing protections.
type SecurityConfig struct {
	// CorsAllowedOrigins defaults to the site URL when unset.
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
	// RateLimitPerMinute caps /v1 requests per client IP. Zero disables it.
	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30" validate:"gte=0"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	EnableMetrics bool `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)

// Package config defines the process configuration for the campaign backend.
// Configuration is loaded once at startup (or Lambda cold start) and is
// immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"campaignfund/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for credential fields.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the sub-struct they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"campaignfund-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Campaign      CampaignConfig
	Razorpay      RazorpayConfig
	Store         StoreConfig
	AWS           AWSConfig
	Observability ObservabilityConfig
	Security      SecurityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s" validate:"gt=0"`
	MaxWebhookBody int64         `envconfig:"MAX_WEBHOOK_BODY_BYTES" default:"65536" validate:"gt=0"`
}

// CampaignConfig identifies the single campaign this process serves.
type CampaignConfig struct {
	ID            string `envconfig:"CAMPAIGN_ID" default:"youtuber_rebuild_punjab" validate:"required"`
	Name          string `envconfig:"CAMPAIGN_NAME" default:"Rebuild Punjab - Emergency Relief Fund"`
	Organizer     string `envconfig:"CAMPAIGN_ORGANIZER" default:"SikhAid India"`
	Domain        string `envconfig:"CAMPAIGN_DOMAIN" default:"rebuildpunjab.sikhaidindia.com" validate:"required"`
	ReceiptPrefix string `envconfig:"CAMPAIGN_RECEIPT_PREFIX" default:"ytcampaign_" validate:"required"`
	TargetINR     int64  `envconfig:"CAMPAIGN_TARGET" default:"1500000" validate:"gt=0"`
	MinimumINR    int64  `envconfig:"CAMPAIGN_MIN_AMOUNT" default:"10" validate:"gt=0"`
	Currency      string `envconfig:"CAMPAIGN_CURRENCY" default:"INR" validate:"len=3"`
}

// RazorpayConfig holds gateway credentials. Key id and secret are optional at
// startup; order creation reports a configuration error when they are absent.
type RazorpayConfig struct {
	KeyID         string        `envconfig:"RAZORPAY_KEY_ID"`
	KeySecret     SecretString  `envconfig:"RAZORPAY_KEY_SECRET"`
	WebhookSecret SecretString  `envconfig:"RAZORPAY_WEBHOOK_SECRET"`
	APIURL        string        `envconfig:"RAZORPAY_API_URL" default:"https://api.razorpay.com" validate:"required,url"`
	Timeout       time.Duration `envconfig:"RAZORPAY_TIMEOUT" default:"10s"`

	// AllowUnverified accepts webhooks without a signature check when no
	// webhook secret is configured. Off by default.
	AllowUnverified bool `envconfig:"WEBHOOK_ALLOW_UNVERIFIED" default:"false"`
}

// StoreConfig selects and tunes the blob store backend.
type StoreConfig struct {
	Backend     string       `envconfig:"STORE_BACKEND" default:"memory" validate:"oneof=memory postgres dynamodb"`
	DatabaseURL SecretString `envconfig:"DATABASE_URL" validate:"required_if=Backend postgres"`
	MaxConns    int32        `envconfig:"DB_MAX_CONNS" default:"5" validate:"gt=0"`
	DynamoTable string       `envconfig:"DYNAMODB_TABLE" validate:"required_if=Backend dynamodb"`

	Timeout            time.Duration `envconfig:"STORE_TIMEOUT" default:"5s" validate:"gt=0"`
	DonationsNamespace string        `envconfig:"DONATIONS_STORE" default:"campaign-donations" validate:"required"`
	StatsNamespace     string        `envconfig:"STATS_STORE" default:"campaign-stats" validate:"required"`

	AggregateMaxRetries int           `envconfig:"AGGREGATE_MAX_RETRIES" default:"8" validate:"min=1,max=32"`
	ClaimLease          time.Duration `envconfig:"CLAIM_LEASE" default:"30s" validate:"gt=0"`
}

// AWSConfig holds AWS regional configuration and resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ap-south-1"`

	// Optional. Receipts are published only when set.
	DonationQueueURL string `envconfig:"DONATION_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"CampaignFund"`
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
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
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)

// Package config defines the global configuration structure for the BrokerDesk
// billing service. Configuration is loaded once at process initialization and
// is immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast).
package config

import (
	"time"

	"brokerdesk/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the billing service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"brokerdesk-billing"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URLs for gateway redirects (no trailing slash)
	DashboardURL   string        `envconfig:"DASHBOARD_URL" validate:"required,url"` // e.g., https://app.brokerdesk.io
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// BillingConfig holds payment gateway credentials and the price table.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	// Gateway timeout for synchronous API calls. The caller's request is the
	// sole timeout boundary; no internal retries beyond the transport policy.
	GatewayTimeout time.Duration `envconfig:"STRIPE_TIMEOUT" default:"20s"`

	// Price table: gateway price id per paid tier. Defaults match the test
	// fixtures so local environments work without Stripe dashboard setup.
	PriceBasic  string `envconfig:"STRIPE_PRICE_BASIC" default:"price_basic"`
	PricePro    string `envconfig:"STRIPE_PRICE_PRO" default:"price_pro"`
	PriceExpert string `envconfig:"STRIPE_PRICE_EXPERT" default:"price_expert"`
}

// PriceTable returns the configured price-id-to-tier mapping for the plan
// catalog. Every paid tier has exactly one price id.
func (b BillingConfig) PriceTable() map[string]types.PlanTier {
	return map[string]types.PlanTier{
		b.PriceBasic:  types.PlanBasic,
		b.PricePro:    types.PlanPro,
		b.PriceExpert: types.PlanExpert,
	}
}

// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP client
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`

	// Resilience
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"3"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"100ms"`
	MaxConcurrency int           `env:"MAX_CONCURRENCY" envDefault:"50"`

	// Observability. Empty disables trace export.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Supabase
	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseAnonKey    string `env:"SUPABASE_ANON_KEY"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	SupabaseJWTSecret  string `env:"SUPABASE_JWT_SECRET,required,notEmpty"`

	// DatabaseURL switches persistence to a direct Postgres pool.
	DatabaseURL string `env:"DATABASE_URL"`

	// Webhooks and jobs
	WebhookSecret           string `env:"WEBHOOK_SECRET,required,notEmpty"`
	WebhookAllowLegacyToken bool   `env:"WEBHOOK_ALLOW_LEGACY_TOKEN" envDefault:"false"`
	CronSecret              string `env:"CRON_SECRET,required,notEmpty"`

	// Status reader. A zero TTL disables the cache.
	StatusCacheTTL time.Duration `env:"STATUS_CACHE_TTL" envDefault:"10s"`
	BillingPath    string        `env:"BILLING_PATH" envDefault:"/assinatura"`

	// Notifications. Empty tokens disable the channel.
	PostmarkServerToken string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkFrom        string `env:"POSTMARK_FROM" envDefault:"assinaturas@gestor.app"`
	WhatsAppAPIURL      string `env:"WHATSAPP_API_URL"`
	WhatsAppToken       string `env:"WHATSAPP_API_TOKEN"`
	NotifyConcurrency   int    `env:"NOTIFY_CONCURRENCY" envDefault:"8"`
}

// UsePostgres reports whether the direct Postgres adapter should be used.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Load reads a .env file if present and parses the environment into Config.
// Variables already set in the process take precedence over the file.
func Load(dotenvFiles ...string) (*Config, error) {
	// The .env file might not exist and that's ok.
	_ = godotenv.Load(dotenvFiles...)

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if !c.UsePostgres() && (c.SupabaseURL == "" || c.SupabaseServiceKey == "") {
		return errors.New("config: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required when DATABASE_URL is not set")
	}
	if c.StatusCacheTTL < 0 {
		return errors.New("config: STATUS_CACHE_TTL must not be negative")
	}
	if c.NotifyConcurrency <= 0 {
		return errors.New("config: NOTIFY_CONCURRENCY must be positive")
	}
	return nil
}

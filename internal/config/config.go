// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL    string `env:"DATABASE_URL,required,notEmpty"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required,notEmpty"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Panic reporting; disabled when empty
	SentryDSN string `env:"SENTRY_DSN" envDefault:""`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Upper bound for the first-provisioning transaction
	ProvisioningTxTimeout time.Duration `env:"PROVISIONING_TX_TIMEOUT" envDefault:"5s"`

	// Identity provider session tokens (HS256)
	IdentityJWTSecret   string `env:"IDENTITY_JWT_SECRET,required,notEmpty"`
	IdentityJWTIssuer   string `env:"IDENTITY_JWT_ISSUER" envDefault:""`
	IdentityJWTAudience string `env:"IDENTITY_JWT_AUDIENCE" envDefault:""`

	// Rate limiting for API key callers
	RateLimitAPIEnabled bool `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`
	RateLimitAPIRPM     int  `env:"RATE_LIMIT_API_RPM" envDefault:"60"`
	RateLimitAPIBurst   int  `env:"RATE_LIMIT_API_BURST" envDefault:"10"`

	// Spam classifier; the endpoint is disabled without an API key
	SpamClassifierURL     string        `env:"SPAM_CLASSIFIER_URL" envDefault:"https://api.openai.com/v1"`
	SpamClassifierAPIKey  string        `env:"SPAM_CLASSIFIER_API_KEY" envDefault:""`
	SpamClassifierModel   string        `env:"SPAM_CLASSIFIER_MODEL" envDefault:"gpt-3.5-turbo"`
	SpamClassifierTimeout time.Duration `env:"SPAM_CLASSIFIER_TIMEOUT" envDefault:"15s"`
	SpamClassifierRPS     float64       `env:"SPAM_CLASSIFIER_RPS" envDefault:"5"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SpamCheckEnabled reports whether the spam classifier is configured.
func (c *Config) SpamCheckEnabled() bool {
	return c.SpamClassifierAPIKey != ""
}

// Validate checks values the env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.AppPort < 1 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be between 1 and 65535, got %d", c.AppPort))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if c.ProvisioningTxTimeout <= 0 {
		errs = append(errs, errors.New("PROVISIONING_TX_TIMEOUT must be positive"))
	}
	if c.RateLimitAPIEnabled && (c.RateLimitAPIRPM <= 0 || c.RateLimitAPIBurst <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_API_RPM and RATE_LIMIT_API_BURST must be positive when rate limiting is enabled"))
	}
	if c.SpamClassifierRPS < 0 {
		errs = append(errs, errors.New("SPAM_CLASSIFIER_RPS must not be negative"))
	}
	if c.SpamCheckEnabled() {
		if u, err := url.Parse(c.SpamClassifierURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("SPAM_CLASSIFIER_URL is not a valid URL: %q", c.SpamClassifierURL))
		}
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// RedactURL hides the password of a connection URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable]"
	}
	return u.Redacted()
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

// SanitizeError renders err with every secret URL replaced by its redacted
// form and any password= parameter masked.
func SanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, secret, RedactURL(secret))
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}

package identity

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "IDENTITY_"

// Config is the process configuration. It satisfies ServerConfig.
type Config struct {
	Database          DatabaseConfig   `envPrefix:"DB_"`
	GuestMode         bool             `env:"GUEST_MODE" envDefault:"false"`
	RequireInvite     bool             `env:"INVITE_ONLY" envDefault:"false"`
	PasswordMinLength int              `env:"MIN_PASSWORD_LENGTH" envDefault:"8"`
	PageSizeLimit     int              `env:"MAX_PAGE_SIZE" envDefault:"200"`
	Token             TokenConfig      `envPrefix:"TOKEN_"`
	RateLimit         RateLimitConfig  `envPrefix:"RATE_LIMIT_"`
	Events            EventsConfig     `envPrefix:"EVENTS_"`
	Strategies        StrategiesConfig `envPrefix:"AUTH_"`
	HTTPAddr          string           `env:"HTTP_ADDR" envDefault:":3000"`
	PublicURL         string           `env:"PUBLIC_URL" envDefault:"http://localhost:3000"`
}

type DatabaseConfig struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DSN" envDefault:"file:identity.db?cache=shared"`
	Debug  bool   `env:"DEBUG" envDefault:"false"`
}

type TokenConfig struct {
	SigningKey string        `env:"SIGNING_KEY"`
	Issuer     string        `env:"ISSUER" envDefault:"go-identity"`
	Audience   []string      `env:"AUDIENCE" envSeparator:","`
	TTL        time.Duration `env:"TTL" envDefault:"24h"`
}

type RateLimitConfig struct {
	Attempts int           `env:"ATTEMPTS" envDefault:"10"`
	Window   time.Duration `env:"WINDOW" envDefault:"1m"`
	RedisURL string        `env:"REDIS_URL"`
}

type EventsConfig struct {
	MaxAttempts  int    `env:"MAX_ATTEMPTS" envDefault:"5"`
	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"identity.events"`
}

// StrategiesConfig selects which authentication strategies are built.
// OAuth strategies are enabled when their client id is set.
type StrategiesConfig struct {
	LocalEnabled       bool          `env:"LOCAL_ENABLED" envDefault:"true"`
	StateEncryptionKey string        `env:"STATE_ENCRYPTION_KEY"`
	StateSigningKey    string        `env:"STATE_SIGNING_KEY"`
	StateTTL           time.Duration `env:"STATE_TTL" envDefault:"10m"`
	GitHub             OAuthConfig   `envPrefix:"GITHUB_"`
	Google             OAuthConfig   `envPrefix:"GOOGLE_"`
	AzureAD            AzureADConfig `envPrefix:"AZURE_AD_"`
	OIDC               OIDCConfig    `envPrefix:"OIDC_"`
}

type OAuthConfig struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	Scopes       []string `env:"SCOPES" envSeparator:","`
}

func (c OAuthConfig) Enabled() bool { return c.ClientID != "" }

type AzureADConfig struct {
	OAuthConfig
	TenantID string `env:"TENANT_ID" envDefault:"common"`
}

type OIDCConfig struct {
	OAuthConfig
	Name        string `env:"NAME" envDefault:"OpenID Connect"`
	Issuer      string `env:"ISSUER"`
	AuthURL     string `env:"AUTH_URL"`
	TokenURL    string `env:"TOKEN_URL"`
	UserInfoURL string `env:"USERINFO_URL"`
	JWKSURL     string `env:"JWKS_URL"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the configuration used when no environment is set.
func DefaultConfig() *Config {
	cfg := &Config{}
	_ = env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: map[string]string{}})
	return cfg
}

func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.PasswordMinLength, validation.Min(1)),
		validation.Field(&c.PageSizeLimit, validation.Min(1)),
		validation.Field(&c.PublicURL, validation.Required, is.URL),
		validation.Field(&c.Database),
		validation.Field(&c.RateLimit),
	)
	if err != nil {
		return validationError("invalid configuration", map[string]any{"fields": err.Error()})
	}
	return nil
}

func (c DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&c.DSN, validation.Required),
	)
}

func (c RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Attempts, validation.Min(1)),
		validation.Field(&c.Window, validation.Min(time.Millisecond)),
	)
}

func (c *Config) GuestModeEnabled(context.Context) bool { return c.GuestMode }

func (c *Config) InviteOnly(context.Context) bool { return c.RequireInvite }

func (c *Config) MaxPageSize() int {
	if c.PageSizeLimit <= 0 {
		return DefaultMaxPageSize
	}
	return c.PageSizeLimit
}

func (c *Config) MinPasswordLength() int {
	if c.PasswordMinLength <= 0 {
		return MinimumPasswordLength
	}
	return c.PasswordMinLength
}

// Package config loads and validates the gateway configuration from the
// environment. Configuration is an immutable value built once at startup;
// rotating a secret means restarting the process.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

// Config is the full gateway configuration.
type Config struct {
	Env       string `env:"NODE_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	OAuth    OAuthConfig
	Identity IdentityConfig
	Rate     RateLimitConfig
	Outbox   OutboxConfig
	Keystore KeystoreConfig

	// WebhookSecret signs edge-driven sync callbacks. Optional; required
	// only when the webhook surface is enabled.
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type ServerConfig struct {
	Port            int           `env:"PORT" envDefault:"3000"`
	CORSOrigin      string        `env:"CORS_ORIGIN" envDefault:"*"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AuthBaseURL     string        `env:"AUTH_BASE_URL"`
	DashboardURL    string        `env:"DASHBOARD_URL"`
}

type DatabaseConfig struct {
	// URL is the primary (command-side) Postgres DSN.
	URL string `env:"DATABASE_URL"`
	// ReadsideURL is the secondary (projection) Postgres DSN, consumed by
	// the outbox forwarder.
	ReadsideURL     string        `env:"READSIDE_DATABASE_URL"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"10s"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type SessionConfig struct {
	// JWTSecret signs session cookies and first-party JWTs. Must be at
	// least 32 bytes.
	JWTSecret    string        `env:"JWT_SECRET"`
	CookieDomain string        `env:"COOKIE_DOMAIN"`
	TTL          time.Duration `env:"SESSION_TTL" envDefault:"168h"`
}

type OAuthConfig struct {
	AuthCodeTTL     time.Duration `env:"AUTH_CODE_TTL_SECONDS" envDefault:"300s"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL_SECONDS" envDefault:"900s"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL_SECONDS" envDefault:"720h"`
	DeviceCodeTTL   time.Duration `env:"DEVICE_CODE_TTL_SECONDS" envDefault:"900s"`
	DeviceInterval  time.Duration `env:"DEVICE_POLL_INTERVAL" envDefault:"5s"`

	RequirePKCE    bool `env:"REQUIRE_PKCE" envDefault:"true"`
	AllowPlainPKCE bool `env:"ALLOW_PLAIN_PKCE" envDefault:"false"`
	EnforceState   bool `env:"ENFORCE_STATE_PARAMETER" envDefault:"true"`

	// BcryptCost is the cost factor for slow-hashed credentials
	// (authorization codes, refresh tokens).
	BcryptCost int `env:"CREDENTIAL_BCRYPT_COST" envDefault:"10"`
}

type IdentityConfig struct {
	// ProviderURL and ServiceKey identify the external identity provider
	// used for password verification on /web/login.
	ProviderURL string        `env:"IDENTITY_PROVIDER_URL"`
	ServiceKey  string        `env:"IDENTITY_PROVIDER_SERVICE_KEY"`
	Timeout     time.Duration `env:"IDENTITY_PROVIDER_TIMEOUT" envDefault:"5s"`
}

type RateLimitConfig struct {
	WindowMS    int `env:"RATE_LIMIT_WINDOW_MS" envDefault:"900000"`
	MaxRequests int `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"100"`
}

type KeystoreConfig struct {
	// EncryptionKey is the hex-encoded 32-byte AES key for stored
	// third-party credentials.
	EncryptionKey string `env:"KEYSTORE_ENCRYPTION_KEY"`
}

// Key decodes the hex key.
func (k KeystoreConfig) Key() ([]byte, error) {
	raw, err := hex.DecodeString(k.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("config: KEYSTORE_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	return raw, nil
}

type OutboxConfig struct {
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	MaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
	MaxBackoff   time.Duration `env:"OUTBOX_MAX_BACKOFF" envDefault:"5m"`
}

// Load parses the configuration from the environment and validates it.
// The gateway refuses to start on any validation failure.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadForwarder loads the subset the outbox forwarder needs. The forwarder
// does not require the identity provider or cookie settings.
func LoadForwarder() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	var problems []string
	if cfg.Database.URL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if cfg.Database.ReadsideURL == "" {
		problems = append(problems, "READSIDE_DATABASE_URL is required for outbox delivery")
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// LoadAdminCtl loads the subset the admin provisioning tool needs: the
// primary store and the credential hash cost.
func LoadAdminCtl() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	return cfg, nil
}

// Validate checks every required option and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.URL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.Session.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	} else if len(c.Session.JWTSecret) < 32 {
		problems = append(problems, "JWT_SECRET must be at least 32 bytes")
	}
	if c.Session.CookieDomain == "" {
		problems = append(problems, "COOKIE_DOMAIN is required")
	}
	if c.Server.AuthBaseURL == "" {
		problems = append(problems, "AUTH_BASE_URL is required")
	}
	if c.Server.DashboardURL == "" {
		problems = append(problems, "DASHBOARD_URL is required")
	}
	if c.Identity.ProviderURL == "" {
		problems = append(problems, "IDENTITY_PROVIDER_URL is required for password login")
	}
	if c.Identity.ServiceKey == "" {
		problems = append(problems, "IDENTITY_PROVIDER_SERVICE_KEY is required for password login")
	}
	if c.OAuth.BcryptCost < 4 || c.OAuth.BcryptCost > 31 {
		problems = append(problems, "CREDENTIAL_BCRYPT_COST must be between 4 and 31")
	}
	if c.Keystore.EncryptionKey == "" {
		problems = append(problems, "KEYSTORE_ENCRYPTION_KEY is required")
	} else if raw, err := hex.DecodeString(c.Keystore.EncryptionKey); err != nil || len(raw) != 32 {
		problems = append(problems, "KEYSTORE_ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsProduction reports whether the gateway runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password", "jwt-secret",
}

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

const (
	NotifierNone = "none"
	NotifierLog  = "log"
	NotifierSMTP = "smtp"
)

type Config struct {
	Port             int           `env:"PORT" envDefault:"8080"`
	AppEnv           string        `env:"APP_ENV" envDefault:"development"`
	DatabaseURL      string        `env:"DATABASE_URL,required"`
	RedisURL         string        `env:"REDIS_URL,required"`
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET" envDefault:"dev-secret-change-me"`
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL  time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	EncryptionKey    string        `env:"ENCRYPTION_KEY"`
	TOTPIssuer       string        `env:"TOTP_ISSUER" envDefault:"TallyPay"`
	Notifier         string        `env:"NOTIFIER" envDefault:"log"`
	SMTPHost         string        `env:"SMTP_HOST"`
	SMTPPort         string        `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername     string        `env:"SMTP_USERNAME"`
	SMTPPassword     string        `env:"SMTP_PASSWORD"`
	SMTPFrom         string        `env:"SMTP_FROM"`
	NotifyAsync      bool          `env:"NOTIFY_ASYNC" envDefault:"false"`
	NotifyRatePerSec float64       `env:"NOTIFY_RATE_PER_SEC" envDefault:"10"`
	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND" envDefault:"redis"`
	KVBackend        string        `env:"KV_BACKEND" envDefault:"redis"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, EnvProduction)
}

// NotifierEnabled reports whether a second-factor delivery channel is configured.
func (c *Config) NotifierEnabled() bool {
	switch c.Notifier {
	case NotifierLog:
		return true
	case NotifierSMTP:
		return c.SMTPHost != ""
	default:
		return false
	}
}

func (c *Config) Validate() error {
	switch c.Notifier {
	case NotifierNone, NotifierLog, NotifierSMTP:
	default:
		return fmt.Errorf("NOTIFIER must be one of none, log, smtp (got %q)", c.Notifier)
	}
	if c.Notifier == NotifierSMTP && (c.SMTPHost == "" || c.SMTPFrom == "") {
		return fmt.Errorf("NOTIFIER=smtp requires SMTP_HOST and SMTP_FROM")
	}
	if c.NotifyRatePerSec <= 0 {
		return fmt.Errorf("NOTIFY_RATE_PER_SEC must be positive (got %v)", c.NotifyRatePerSec)
	}
	if c.RateLimitBackend != "redis" && c.RateLimitBackend != "memory" {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be redis or memory (got %q)", c.RateLimitBackend)
	}
	if c.KVBackend != "redis" && c.KVBackend != "memory" {
		return fmt.Errorf("KV_BACKEND must be redis or memory (got %q)", c.KVBackend)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL must be longer than a positive ACCESS_TOKEN_TTL")
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 64 {
		return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes hex-encoded (64 characters)")
	}

	if c.IsProduction() {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if err := validateSecret("JWT_REFRESH_SECRET", c.JWTRefreshSecret); err != nil {
			return err
		}
		if c.JWTSecret == c.JWTRefreshSecret {
			return fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET must differ in production")
		}
		if c.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required in production")
		}

		if c.Notifier == NotifierLog {
			log.Warn().Msg("NOTIFIER=log in production: one-time codes will not reach users")
		}
		if !c.NotifierEnabled() {
			log.Warn().Msg("no notifier configured in production: OTP logins will be refused")
		}
		if c.KVBackend == "memory" || c.RateLimitBackend == "memory" {
			log.Warn().Msg("in-memory kv or rate-limit backend in production: state is not shared across instances")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

// Load reads an optional .env file and then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

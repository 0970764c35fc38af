package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string         `yaml:"port"`
	Env         string         `yaml:"env"`
	StoreDriver string         `yaml:"store_driver"`
	DatabaseURL string         `yaml:"database_url"`
	SQLitePath  string         `yaml:"sqlite_path"`
	RedisURL    string         `yaml:"redis_url"`
	NumWorkers  int            `yaml:"num_workers"`
	CORSOrigins []string       `yaml:"cors_origins"`
	Waitlist    WaitlistConfig `yaml:"waitlist"`
	Email       EmailConfig    `yaml:"email"`
	Admin       AdminConfig    `yaml:"admin"`
	Tracing     TracingConfig  `yaml:"tracing"`
}

type WaitlistConfig struct {
	RequireConfirmation bool          `yaml:"require_confirmation"`
	PublicURL           string        `yaml:"public_url"`
	RateLimit           int           `yaml:"rate_limit"`
	RateWindow          time.Duration `yaml:"rate_window"`
	NotifyTimeout       time.Duration `yaml:"notify_timeout"`
	// BroadcastRateLimit caps provider sends per second during a broadcast
	// (default 10). Zero disables throttling.
	BroadcastRateLimit int `yaml:"broadcast_rate_limit"`
}

// EmailConfig selects and configures the single notifier used at runtime.
type EmailConfig struct {
	Provider       string `yaml:"provider"`
	FromAddress    string `yaml:"from_address"`
	FromName       string `yaml:"from_name"`
	ResendAPIKey   string `yaml:"resend_api_key"`
	ResendBaseURL  string `yaml:"resend_base_url"`
	SendGridAPIKey string `yaml:"sendgrid_api_key"`
	SendGridURL    string `yaml:"sendgrid_base_url"`
	SMTPHost       string `yaml:"smtp_host"`
	SMTPPort       int    `yaml:"smtp_port"`
	SMTPUser       string `yaml:"smtp_user"`
	SMTPPass       string `yaml:"smtp_pass"`
	SESRegion      string `yaml:"ses_region"`
	SESAccessKey   string `yaml:"ses_access_key"`
	SESSecretKey   string `yaml:"ses_secret_key"`
}

type AdminConfig struct {
	Username     string        `yaml:"username"`
	PasswordHash string        `yaml:"password_hash"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Development reports whether error details may be returned to clients.
func (c *Config) Development() bool {
	return c.Env == "development"
}

// Load reads configuration from an optional YAML file (WAITLIST_CONFIG),
// a .env file in the working directory, and environment variables, in
// increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := defaults()
	if path := os.Getenv("WAITLIST_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:        "3001",
		Env:         "production",
		StoreDriver: DriverMemory,
		SQLitePath:  "waitlist.db",
		NumWorkers:  10,
		CORSOrigins: []string{"*"},
		Waitlist: WaitlistConfig{
			PublicURL:          "http://localhost:3001",
			RateLimit:          5,
			RateWindow:         time.Minute,
			NotifyTimeout:      15 * time.Second,
			BroadcastRateLimit: 10,
		},
		Email: EmailConfig{
			Provider:    "log",
			FromAddress: "onboarding@aurlink.xyz",
			FromName:    "AURLINK",
			SMTPPort:    587,
			SESRegion:   "us-east-1",
		},
		Admin: AdminConfig{
			Username: "admin",
			TokenTTL: 12 * time.Hour,
		},
		Tracing: TracingConfig{
			ServiceName: "aurlink-waitlist",
		},
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", cfg.StoreDriver))
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.NumWorkers = getEnvInt("NUM_WORKERS", cfg.NumWorkers)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", cfg.CORSOrigins)

	w := &cfg.Waitlist
	w.RequireConfirmation = getEnvBool("WAITLIST_REQUIRE_CONFIRMATION", w.RequireConfirmation)
	w.PublicURL = getEnv("PUBLIC_URL", w.PublicURL)
	w.RateLimit = getEnvInt("SUBSCRIBE_RATE_LIMIT", w.RateLimit)
	w.RateWindow = getEnvDuration("SUBSCRIBE_RATE_WINDOW", w.RateWindow)
	w.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", w.NotifyTimeout)
	w.BroadcastRateLimit = getEnvInt("BROADCAST_RATE_LIMIT", w.BroadcastRateLimit)

	e := &cfg.Email
	e.Provider = strings.ToLower(getEnv("EMAIL_PROVIDER", e.Provider))
	e.FromAddress = getEnv("EMAIL_FROM", e.FromAddress)
	e.FromName = getEnv("EMAIL_FROM_NAME", e.FromName)
	e.ResendAPIKey = getEnv("RESEND_API_KEY", e.ResendAPIKey)
	e.ResendBaseURL = getEnv("RESEND_BASE_URL", e.ResendBaseURL)
	e.SendGridAPIKey = getEnv("SENDGRID_API_KEY", e.SendGridAPIKey)
	e.SendGridURL = getEnv("SENDGRID_BASE_URL", e.SendGridURL)
	e.SMTPHost = getEnv("SMTP_HOST", e.SMTPHost)
	e.SMTPPort = getEnvInt("SMTP_PORT", e.SMTPPort)
	e.SMTPUser = getEnv("SMTP_USER", e.SMTPUser)
	e.SMTPPass = getEnv("SMTP_PASS", e.SMTPPass)
	e.SESRegion = getEnv("AWS_REGION", e.SESRegion)
	e.SESAccessKey = getEnv("AWS_ACCESS_KEY_ID", e.SESAccessKey)
	e.SESSecretKey = getEnv("AWS_SECRET_ACCESS_KEY", e.SESSecretKey)

	a := &cfg.Admin
	a.Username = getEnv("ADMIN_USERNAME", a.Username)
	a.PasswordHash = getEnv("ADMIN_PASSWORD_HASH", a.PasswordHash)
	a.JWTSecret = getEnv("JWT_SECRET", a.JWTSecret)
	a.TokenTTL = getEnvDuration("ADMIN_TOKEN_TTL", a.TokenTTL)

	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = getEnv("OTEL_SERVICE_NAME", cfg.Tracing.ServiceName)
}

// Validate checks that the selected store and email provider are usable.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.Email.Provider {
	case "log":
	case "resend":
		if c.Email.ResendAPIKey == "" {
			return fmt.Errorf("RESEND_API_KEY is required for the resend provider")
		}
	case "sendgrid":
		if c.Email.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required for the sendgrid provider")
		}
	case "smtp":
		if c.Email.SMTPHost == "" || c.Email.SMTPUser == "" || c.Email.SMTPPass == "" {
			return fmt.Errorf("SMTP_HOST, SMTP_USER and SMTP_PASS are required for the smtp provider")
		}
	case "ses":
		if c.Email.SESAccessKey == "" || c.Email.SESSecretKey == "" {
			return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required for the ses provider")
		}
	default:
		return fmt.Errorf("unknown EMAIL_PROVIDER %q", c.Email.Provider)
	}

	if c.Admin.PasswordHash != "" && c.Admin.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ADMIN_PASSWORD_HASH is set")
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("NUM_WORKERS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	// Chat transports; at least one is required
	TelegramToken string `toml:"telegram_token"`
	DiscordToken  string `toml:"discord_token"`

	// Ledger
	LedgerURL     string        `toml:"ledger_url"`
	LedgerTimeout time.Duration `toml:"ledger_timeout"`

	// Notification outbox: postgres:// URL, SQLite file path, or empty for memory
	DatabaseURL string `toml:"database_url"`

	// Web Server
	WebBind string `toml:"web_bind"`

	NotifyMaxAttempts int           `toml:"notify_max_attempts"`
	NotifyInterval    time.Duration `toml:"notify_interval"`

	// Conversations idle this long are forgotten
	SessionIdle time.Duration `toml:"session_idle"`

	// Signs API bearer tokens; the /api routes are off without it
	JWTSecret string `toml:"jwt_secret"`
}

// Outbox kinds returned by Config.Outbox.
const (
	OutboxMemory   = "memory"
	OutboxPostgres = "postgres"
	OutboxSQLite   = "sqlite"
)

func defaults() *Config {
	return &Config{
		LedgerTimeout:     12 * time.Second,
		WebBind:           "0.0.0.0:8080",
		NotifyMaxAttempts: 3,
		NotifyInterval:    5 * time.Second,
		SessionIdle:       time.Hour,
	}
}

// Load reads .env (if present), then the TOML file named by FAMILYBOT_CONFIG
// (if set), then environment variables, each layer overriding the last, and
// validates the result for serving.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLedger is Load for commands that only talk to the ledger: no chat
// token is required.
func LoadLedger() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := validateLedgerURL(cfg.LedgerURL); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSigner is Load for commands that mint API tokens: only JWT_SECRET is
// required.
func LoadSigner() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

func read() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("FAMILYBOT_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	overrideString(&cfg.TelegramToken, "TELEGRAM_TOKEN")
	overrideString(&cfg.DiscordToken, "DISCORD_TOKEN")
	overrideString(&cfg.LedgerURL, "LEDGER_URL")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.WebBind, "WEB_BIND")
	overrideString(&cfg.JWTSecret, "JWT_SECRET")
	if err := overrideDuration(&cfg.LedgerTimeout, "LEDGER_TIMEOUT"); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.NotifyInterval, "NOTIFY_INTERVAL"); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.SessionIdle, "SESSION_IDLE"); err != nil {
		return nil, err
	}
	if err := overrideInt(&cfg.NotifyMaxAttempts, "NOTIFY_MAX_ATTEMPTS"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TelegramToken == "" && c.DiscordToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN or DISCORD_TOKEN is required")
	}
	if err := validateLedgerURL(c.LedgerURL); err != nil {
		return err
	}
	if c.LedgerTimeout <= 0 {
		return fmt.Errorf("LEDGER_TIMEOUT must be positive")
	}
	if c.NotifyMaxAttempts < 1 {
		return fmt.Errorf("NOTIFY_MAX_ATTEMPTS must be at least 1")
	}
	if c.NotifyInterval <= 0 {
		return fmt.Errorf("NOTIFY_INTERVAL must be positive")
	}
	return nil
}

func validateLedgerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("LEDGER_URL is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("LEDGER_URL %q is not an absolute URL", raw)
	}
	return nil
}

// Outbox reports which notification store DatabaseURL selects.
func (c *Config) Outbox() string {
	switch {
	case c.DatabaseURL == "":
		return OutboxMemory
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return OutboxPostgres
	default:
		return OutboxSQLite
	}
}

func overrideString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func overrideDuration(dst *time.Duration, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func overrideInt(dst *int, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

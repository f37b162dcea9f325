package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RunModePolling = "polling"
	RunModeWebhook = "webhook"

	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	TelegramToken string
	RunMode       string
	WebhookDomain string
	WebhookSecret string
	WebhookHost   string
	WebhookPort   string

	LogLevel  string
	LogFormat string

	StoreBackend string
	SnapshotPath string
	SQLitePath   string
	DatabaseURL  string

	DisplayTimezone      *time.Location
	DefaultRetryInterval time.Duration
	DispatchTimeout      time.Duration
	MaxConcurrentFires   int
	DispatchRate         float64

	HealthAddr       string
	HealthCheckToken string
	// Telegram usernames, empty means everyone is allowed
	AllowedUsers map[string]struct{}

	OtelServiceName     string
	OtelMetricsEndpoint string
}

// Load reads .env (optional) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_BOT_API_TOKEN"),
		RunMode:       strings.ToLower(getEnvOrDefault("RUN_MODE", RunModePolling)),
		WebhookDomain: os.Getenv("WEBHOOK_DOMAIN"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		WebhookHost:   getEnvOrDefault("WEBHOOK_HOST", "0.0.0.0"),
		WebhookPort:   getEnvOrDefault("WEBHOOK_PORT", "8080"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text")),

		StoreBackend: strings.ToLower(getEnvOrDefault("STORE_BACKEND", StoreFile)),
		SnapshotPath: getEnvOrDefault("SNAPSHOT_PATH", "reminders.json"),
		SQLitePath:   getEnvOrDefault("SQLITE_PATH", "reminders.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),

		HealthAddr:       os.Getenv("HEALTH_ADDR"),
		HealthCheckToken: os.Getenv("HEALTH_CHECK_TOKEN"),
		AllowedUsers:     parseUsers(os.Getenv("ALLOWED_USERS")),

		OtelServiceName:     getEnvOrDefault("OTEL_SERVICE_NAME", "remindme"),
		OtelMetricsEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
	}

	loc, err := time.LoadLocation(getEnvOrDefault("DISPLAY_TIMEZONE", "Europe/Moscow"))
	if err != nil {
		errs = append(errs, fmt.Errorf("DISPLAY_TIMEZONE: %w", err))
	}
	cfg.DisplayTimezone = loc

	cfg.DefaultRetryInterval, err = durationEnv("DEFAULT_RETRY_INTERVAL", 30*time.Minute)
	errs = append(errs, err)
	cfg.DispatchTimeout, err = durationEnv("DISPATCH_TIMEOUT", 10*time.Second)
	errs = append(errs, err)
	cfg.MaxConcurrentFires, err = intEnv("MAX_CONCURRENT_FIRES", 4)
	errs = append(errs, err)
	cfg.DispatchRate, err = floatEnv("DISPATCH_RATE_PER_SECOND", 25)
	errs = append(errs, err)

	errs = append(errs, cfg.validate())
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StoreFromEnv reads only the logging and store settings. It serves the
// operator tools, which never talk to Telegram.
func StoreFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel:     getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:    strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text")),
		StoreBackend: strings.ToLower(getEnvOrDefault("STORE_BACKEND", StoreFile)),
		SnapshotPath: getEnvOrDefault("SNAPSHOT_PATH", "reminders.json"),
		SQLitePath:   getEnvOrDefault("SQLITE_PATH", "reminders.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
	}
	if err := cfg.validateStore(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validateStore() error {
	switch c.StoreBackend {
	case StoreFile, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("STORE_BACKEND: unknown backend %q", c.StoreBackend)
	}
	return nil
}

func (c *Config) validate() error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_API_TOKEN is required"))
	}
	switch c.RunMode {
	case RunModePolling:
	case RunModeWebhook:
		if c.WebhookDomain == "" {
			errs = append(errs, errors.New("WEBHOOK_DOMAIN is required in webhook mode"))
		}
		if c.WebhookSecret == "" {
			errs = append(errs, errors.New("WEBHOOK_SECRET is required in webhook mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("RUN_MODE: unknown mode %q", c.RunMode))
	}
	errs = append(errs, c.validateStore())
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT: unknown format %q", c.LogFormat))
	}
	if c.DefaultRetryInterval <= 0 {
		errs = append(errs, errors.New("DEFAULT_RETRY_INTERVAL must be positive"))
	}
	if c.DispatchTimeout <= 0 {
		errs = append(errs, errors.New("DISPATCH_TIMEOUT must be positive"))
	}
	if c.MaxConcurrentFires <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_FIRES must be positive"))
	}
	if c.DispatchRate <= 0 {
		errs = append(errs, errors.New("DISPATCH_RATE_PER_SECOND must be positive"))
	}
	return errors.Join(errs...)
}

// IsAllowed reports whether a Telegram username may use the bot.
func (c *Config) IsAllowed(username string) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	_, ok := c.AllowedUsers[username]
	return ok
}

func parseUsers(s string) map[string]struct{} {
	users := make(map[string]struct{})
	for u := range strings.SplitSeq(s, ",") {
		u = strings.TrimPrefix(strings.TrimSpace(u), "@")
		if u != "" {
			users[u] = struct{}{}
		}
	}
	return users
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

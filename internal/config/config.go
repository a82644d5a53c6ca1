package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultRelays are used when NOSTR_RELAYS is not set
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
	"wss://relay.primal.net",
}

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port       string
	Debug      bool
	LogFormat  string // "json" or "text"
	TimeZone   string
	AdminToken string // bearer token for the operator routes; empty disables them

	// Nostr identity and relays
	PrivateKey      string
	Relays          []string
	LookbackSeconds int
	RelayTimeout    time.Duration

	// Relay reconnect policy
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	// Outbound publish limiter
	PublishRatePerSec float64
	PublishBurst      int
	EnableZapReply    bool

	// Task store
	StoreDriver  string // "sqlite" or "postgres"
	SQLitePath   string
	DatabaseURL  string
	StoreTimeout time.Duration

	// Spam guard limits
	MaxMentionsPerHour int
	MaxTasksPerUser    int
	MaxTotalTasks      int

	// Scheduler configuration
	TimerHorizon       time.Duration
	SweepSchedule      string
	CleanupSchedule    string
	ProcessedRetention time.Duration

	// Report configuration
	ReportSchedule string // "off", "daily" or "weekly"

	// Azure Storage configuration
	StorageAccount   string
	StorageContainer string

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string

	// Keep-alive
	KeepAliveURL      string
	KeepAliveSchedule string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		Debug:     getBoolEnv("DEBUG", false),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		TimeZone:  getEnv("TIMEZONE", "UTC"),

		AdminToken: getEnv("ADMIN_TOKEN", ""),

		PrivateKey:      firstEnv("BOT_NSEC", "PRIVATE_KEY", "NOSTR_PRIVATE_KEY"),
		Relays:          getSliceEnv("NOSTR_RELAYS", DefaultRelays),
		LookbackSeconds: getIntEnv("LOOKBACK_SECONDS", 1800),
		RelayTimeout:    getDurationEnv("RELAY_TIMEOUT", 10*time.Second),

		ReconnectBaseDelay:   getDurationEnv("RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:    getDurationEnv("RECONNECT_MAX_DELAY", time.Minute),
		ReconnectMaxAttempts: getIntEnv("RECONNECT_MAX_ATTEMPTS", 10),

		PublishRatePerSec: getFloatEnv("PUBLISH_RATE_PER_SEC", 2),
		PublishBurst:      getIntEnv("PUBLISH_BURST", 4),
		EnableZapReply:    getBoolEnv("ENABLE_ZAP_REPLY", true),

		StoreDriver:  getEnv("STORE_DRIVER", "sqlite"),
		SQLitePath:   getEnv("SQLITE_PATH", "data/banger.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		StoreTimeout: getDurationEnv("STORE_TIMEOUT", 10*time.Second),

		MaxMentionsPerHour: getIntEnv("MAX_MENTIONS_PER_HOUR", 10),
		MaxTasksPerUser:    getIntEnv("MAX_TASKS_PER_USER", 5),
		MaxTotalTasks:      getIntEnv("MAX_TOTAL_TASKS", 2000000),

		TimerHorizon:       getDurationEnv("TIMER_HORIZON", 24*time.Hour),
		SweepSchedule:      getEnv("SWEEP_SCHEDULE", "@every 1h"),
		CleanupSchedule:    getEnv("CLEANUP_SCHEDULE", "@every 1h"),
		ProcessedRetention: getDurationEnv("PROCESSED_RETENTION", 72*time.Hour),

		ReportSchedule: getEnv("REPORT_SCHEDULE", "off"),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "banger-archive"),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),

		KeepAliveURL:      getEnv("KEEPALIVE_URL", ""),
		KeepAliveSchedule: getEnv("KEEPALIVE_SCHEDULE", "@every 14m"),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// NotificationsEnabled reports whether any operator channel is configured
func (c *Config) NotificationsEnabled() bool {
	return c.TeamsWebhookURL != "" || c.NotificationEmail != ""
}

func (c *Config) validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("BOT_NSEC (or PRIVATE_KEY / NOSTR_PRIVATE_KEY) is required")
	}

	if len(c.Relays) == 0 {
		return fmt.Errorf("at least one relay must be configured in NOSTR_RELAYS")
	}

	switch c.StoreDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is 'sqlite'")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is 'postgres'")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be 'sqlite' or 'postgres'")
	}

	if c.MaxMentionsPerHour <= 0 || c.MaxTasksPerUser <= 0 || c.MaxTotalTasks <= 0 {
		return fmt.Errorf("MAX_MENTIONS_PER_HOUR, MAX_TASKS_PER_USER and MAX_TOTAL_TASKS must be positive")
	}

	if c.PublishRatePerSec <= 0 || c.PublishBurst <= 0 {
		return fmt.Errorf("PUBLISH_RATE_PER_SEC and PUBLISH_BURST must be positive")
	}

	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY must be at least RECONNECT_BASE_DELAY")
	}

	// a resumed subscription replays LOOKBACK_SECONDS, which must still be
	// covered by the processed-mention records
	if c.LookbackSeconds < 0 || time.Duration(c.LookbackSeconds)*time.Second >= c.ProcessedRetention {
		return fmt.Errorf("PROCESSED_RETENTION must be longer than LOOKBACK_SECONDS")
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("TIMEZONE is not a valid location: %w", err)
	}

	if c.ReportSchedule != "off" && c.ReportSchedule != "daily" && c.ReportSchedule != "weekly" {
		return fmt.Errorf("REPORT_SCHEDULE must be 'off', 'daily' or 'weekly'")
	}

	if c.ReportSchedule != "off" && !c.NotificationsEnabled() {
		return fmt.Errorf("at least one notification method must be configured when reports are enabled (TEAMS_WEBHOOK_URL or NOTIFICATION_EMAIL)")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

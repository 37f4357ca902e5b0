package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Database
	DatabaseURL string

	// Redis endpoints. More than one entry enables endpoint rotation.
	RedisURLs         []string
	RotationStatePath string
	RedisDialTimeout  time.Duration

	// Server ports
	APIPort  int
	SMTPPort int

	// Mail
	EmailDomains      []string
	DefaultMailboxTTL time.Duration
	MaxMessageSize    int64
	SMTPReadTimeout   time.Duration
	SMTPWriteTimeout  time.Duration

	// Storage
	AttachmentStoragePath string

	// Search (optional)
	MeilisearchHost   string
	MeilisearchAPIKey string

	// Logging
	LogLevel string

	// Security
	AllowedOrigins string
	AppEnv         string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	// Required: DATABASE_URL
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set")
	}

	// REDIS_URLS (default: single local endpoint). Comma-separated; more
	// than one URL enables endpoint rotation.
	cfg.RedisURLs = splitList(getEnvOrDefault("REDIS_URLS", "redis://localhost:6379"))
	if len(cfg.RedisURLs) == 0 {
		return nil, fmt.Errorf("REDIS_URLS must contain at least one endpoint")
	}

	cfg.RotationStatePath = getEnvOrDefault("ROTATION_STATE_PATH", "./data/redis-rotation.json")

	dialTimeout, err := getEnvDuration("REDIS_DIAL_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.RedisDialTimeout = dialTimeout

	cfg.APIPort, err = getEnvInt("API_PORT", 8080)
	if err != nil {
		return nil, err
	}

	cfg.SMTPPort, err = getEnvInt("SMTP_PORT", 2525)
	if err != nil {
		return nil, err
	}

	// EMAIL_DOMAINS is the fixed allow-list of recipient domains.
	cfg.EmailDomains = splitList(getEnvOrDefault("EMAIL_DOMAINS", "tempmail.local"))
	if len(cfg.EmailDomains) == 0 {
		return nil, fmt.Errorf("EMAIL_DOMAINS must contain at least one domain")
	}

	// DEFAULT_MAILBOX_TTL is in milliseconds, matching the REST contract.
	ttlMs, err := getEnvInt("DEFAULT_MAILBOX_TTL", 3600000)
	if err != nil {
		return nil, err
	}
	cfg.DefaultMailboxTTL = time.Duration(ttlMs) * time.Millisecond

	maxSize, err := getEnvInt("SMTP_MAX_MESSAGE_SIZE", 10*1024*1024)
	if err != nil {
		return nil, err
	}
	cfg.MaxMessageSize = int64(maxSize)

	cfg.SMTPReadTimeout, err = getEnvDuration("SMTP_READ_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.SMTPWriteTimeout, err = getEnvDuration("SMTP_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.AttachmentStoragePath = getEnvOrDefault("ATTACHMENT_STORAGE_PATH", "./uploads")

	cfg.MeilisearchHost = os.Getenv("MEILISEARCH_HOST")
	cfg.MeilisearchAPIKey = os.Getenv("MEILISEARCH_API_KEY")

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.AppEnv = getEnvOrDefault("APP_ENV", "development")

	return cfg, nil
}

// LoadWithValidation loads and validates configuration, failing fast on errors
func LoadWithValidation() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DatabaseURL cannot be empty")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("APIPort must be between 1 and 65535")
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTPPort must be between 1 and 65535")
	}
	if c.AttachmentStoragePath == "" {
		return fmt.Errorf("AttachmentStoragePath cannot be empty")
	}
	if c.DefaultMailboxTTL <= 0 {
		return fmt.Errorf("DefaultMailboxTTL must be positive")
	}
	for _, d := range c.EmailDomains {
		if !strings.Contains(d, ".") {
			return fmt.Errorf("EMAIL_DOMAINS entry %q is not a valid domain", d)
		}
	}
	return nil
}

// RotationEnabled reports whether more than one redis endpoint is configured.
func (c *Config) RotationEnabled() bool {
	return len(c.RedisURLs) > 1
}

// LogConfig logs configuration values (excluding secrets)
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		slog.Int("api_port", c.APIPort),
		slog.Int("smtp_port", c.SMTPPort),
		slog.String("domains", strings.Join(c.EmailDomains, ",")),
		slog.Duration("default_ttl", c.DefaultMailboxTTL),
		slog.Int("redis_endpoints", len(c.RedisURLs)),
		slog.String("storage_path", c.AttachmentStoragePath),
		slog.Bool("search_enabled", c.MeilisearchHost != ""),
		slog.String("log_level", c.LogLevel),
		slog.String("app_env", c.AppEnv),
	)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	return d, nil
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/vanishmail")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"redis://localhost:6379"}, cfg.RedisURLs)
	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, 2525, cfg.SMTPPort)
	assert.Equal(t, []string{"tempmail.local"}, cfg.EmailDomains)
	assert.Equal(t, time.Hour, cfg.DefaultMailboxTTL)
	assert.EqualValues(t, 10*1024*1024, cfg.MaxMessageSize)
	assert.Equal(t, "./uploads", cfg.AttachmentStoragePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.RotationEnabled())
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_MultipleRedisURLsEnableRotation(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/vanishmail")
	t.Setenv("REDIS_URLS", "redis://a:6379, redis://b:6379 ,redis://c:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"redis://a:6379", "redis://b:6379", "redis://c:6379"}, cfg.RedisURLs)
	assert.True(t, cfg.RotationEnabled())
}

func TestLoad_InvalidInteger(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/vanishmail")
	t.Setenv("API_PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_PORT")
}

func TestLoad_CustomTTLInMilliseconds(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/vanishmail")
	t.Setenv("DEFAULT_MAILBOX_TTL", "600000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.DefaultMailboxTTL)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DatabaseURL:           "postgres://localhost/vanishmail",
			APIPort:               8080,
			SMTPPort:              2525,
			AttachmentStoragePath: "./uploads",
			DefaultMailboxTTL:     time.Hour,
			EmailDomains:          []string{"tempmail.local"},
		}
	}

	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.APIPort = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.SMTPPort = 70000
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.EmailDomains = []string{"nodot"}
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.DefaultMailboxTTL = 0
	assert.Error(t, cfg.Validate())
}

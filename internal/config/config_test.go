package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "config-test-secret-0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.App.ShortCodeLen)
	assert.Equal(t, 5, cfg.App.ShortCodeRetries)
	assert.Equal(t, 10, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, KeyModeIP, cfg.RateLimit.KeyMode)
	assert.Equal(t, 500*time.Millisecond, cfg.App.ClickTimeout)
	assert.Nil(t, cfg.Server.TrustedProxies)
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	require.NoError(t, os.Unsetenv("JWT_SECRET"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET must be set")
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.1, 172.16.0.0/12,,")
	t.Setenv("SHORT_CODE_LENGTH", "8")
	t.Setenv("RATE_LIMIT_REQUESTS", "3")
	t.Setenv("RATE_LIMIT_WINDOW", "2s")
	t.Setenv("RATE_LIMIT_KEY", "principal")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "true")
	t.Setenv("BASE_URL", "https://short.example/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.App.ShortCodeLen)
	assert.Equal(t, 3, cfg.RateLimit.Requests)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, KeyModePrincipal, cfg.RateLimit.KeyMode)
	assert.True(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, "https://short.example", cfg.App.BaseURL, "trailing slash should be trimmed")
	assert.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, cfg.Server.TrustedProxies)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("SHORT_CODE_LENGTH", "not-a-number")
	t.Setenv("RATE_LIMIT_WINDOW", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.App.ShortCodeLen)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"code too short", func(c *Config) { c.App.ShortCodeLen = 2 }, "SHORT_CODE_LENGTH"},
		{"code too long", func(c *Config) { c.App.ShortCodeLen = 30 }, "SHORT_CODE_LENGTH"},
		{"no retries", func(c *Config) { c.App.ShortCodeRetries = 0 }, "SHORT_CODE_MAX_RETRIES"},
		{"zero limit", func(c *Config) { c.RateLimit.Requests = 0 }, "RATE_LIMIT_REQUESTS"},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }, "RATE_LIMIT_WINDOW"},
		{"unknown key mode", func(c *Config) { c.RateLimit.KeyMode = "cookie" }, "RATE_LIMIT_KEY"},
		{"unknown backend", func(c *Config) { c.RateLimit.Backend = "etcd" }, "RATE_LIMIT_BACKEND"},
		{"unknown click mode", func(c *Config) { c.Broker.ClickMode = "kafka" }, "CLICK_MODE"},
		{"empty secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT_SECRET"},
		{"short secret in production", func(c *Config) {
			c.Observability.Environment = EnvProduction
			c.Auth.JWTSecret = "change-me"
		}, "at least 32 bytes"},
	}

	t.Setenv("JWT_SECRET", testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ProductionSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Observability.Environment = EnvProduction
	cfg.Auth.JWTSecret = strings.Repeat("k", MinProductionSecretLen)
	assert.NoError(t, cfg.Validate())

	cfg.Observability.Environment = "development"
	cfg.Auth.JWTSecret = "short"
	assert.NoError(t, cfg.Validate(), "short secrets are allowed outside production")
}

func TestConnectionStrings(t *testing.T) {
	db := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", db.ConnectionString())

	cache := CacheConfig{Password: "secret", Host: "h", Port: "6379"}
	assert.Equal(t, "redis://:secret@h:6379/0", cache.ConnectionString())
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.Equal(t, "anthropic", cfg.Router.Primary)
	assert.Equal(t, []string{"openai", "google"}, cfg.Router.Fallbacks)
	assert.Equal(t, 3, cfg.Router.FailureThreshold)
	assert.Equal(t, 1200*time.Millisecond, cfg.Router.HedgeTimeout)
	assert.Equal(t, 30*time.Second, cfg.Router.TotalBudget)

	assert.Equal(t, []int{4096, 2048, 1024}, cfg.Pipeline.ConsolidationBudgets)
	assert.Equal(t, 3, cfg.Jobs.MaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.Feeds.CacheTTL)

	assert.True(t, cfg.Providers.Anthropic.Enabled)
	assert.False(t, cfg.Providers.Local.Enabled)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ROUTER_PRIMARY", "openai")
	t.Setenv("ROUTER_FALLBACKS", "google, local")
	t.Setenv("ROUTER_HEDGE_TIMEOUT", "800ms")
	t.Setenv("PIPELINE_CONSOLIDATION_BUDGETS", "8192,4096")
	t.Setenv("JOB_MAX_RETRIES", "5")
	t.Setenv("PROVIDER_LOCAL_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Router.Primary)
	assert.Equal(t, []string{"google", "local"}, cfg.Router.Fallbacks)
	assert.Equal(t, 800*time.Millisecond, cfg.Router.HedgeTimeout)
	assert.Equal(t, []int{8192, 4096}, cfg.Pipeline.ConsolidationBudgets)
	assert.Equal(t, 5, cfg.Jobs.MaxRetries)
	assert.True(t, cfg.Providers.Local.Enabled)
}

func TestLoadInvalidEnvValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("ROUTER_RESET_AFTER", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Router.ResetAfter)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "failure threshold below one",
			mutate:  func(c *Config) { c.Router.FailureThreshold = 0 },
			wantErr: "failure threshold",
		},
		{
			name: "hedge timeout not shorter than total budget",
			mutate: func(c *Config) {
				c.Router.HedgeTimeout = 30 * time.Second
				c.Router.TotalBudget = 30 * time.Second
			},
			wantErr: "hedge timeout",
		},
		{
			name:    "job max retries below one",
			mutate:  func(c *Config) { c.Jobs.MaxRetries = 0 },
			wantErr: "max retries",
		},
		{
			name:    "no consolidation budgets",
			mutate:  func(c *Config) { c.Pipeline.ConsolidationBudgets = nil },
			wantErr: "consolidation budget",
		},
		{
			name:    "unknown primary provider",
			mutate:  func(c *Config) { c.Router.Primary = "mystery" },
			wantErr: "unknown primary provider",
		},
		{
			name:    "unknown fallback provider",
			mutate:  func(c *Config) { c.Router.Fallbacks = []string{"openai", "mystery"} },
			wantErr: "unknown fallback provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestProviderByName(t *testing.T) {
	cfg := validConfig(t)

	for _, name := range []string{"anthropic", "openai", "google", "local"} {
		_, ok := cfg.ProviderByName(name)
		assert.True(t, ok, name)
	}
	_, ok := cfg.ProviderByName("mystery")
	assert.False(t, ok)
}

func TestConnectionStrings(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database = DatabaseConfig{
		Host: "db", Port: 5432, Name: "driveline", User: "app", Password: "secret", SSLMode: "disable",
	}
	cfg.Redis = RedisConfig{Host: "cache", Port: 6379}

	assert.Equal(t, "postgres://app:secret@db:5432/driveline?sslmode=disable", cfg.DatabaseURL())
	assert.Equal(t, "cache:6379", cfg.RedisAddr())
}

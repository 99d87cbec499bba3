package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PASSWORD", "p@ss")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://czertainly:p%40ss@db:5432/czertainly?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, time.Minute, cfg.Approval.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.Compliance.ConnectorTimeout)
	assert.Equal(t, 4, cfg.Compliance.ConnectorConcurrency)
	assert.Zero(t, cfg.Compliance.ScheduleInterval)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, zerolog.InfoLevel, cfg.Log.LogLevel())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "postgres://x@y/z")
	t.Setenv("COMPLIANCE_CONNECTOR_TIMEOUT", "5s")
	t.Setenv("COMPLIANCE_BATCH_WORKERS", "8")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "postgres://x@y/z", cfg.Database.URL)
	assert.Equal(t, 5*time.Second, cfg.Compliance.ConnectorTimeout)
	assert.Equal(t, 8, cfg.Compliance.BatchWorkers)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, zerolog.DebugLevel, cfg.Log.LogLevel())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("APPROVAL_SWEEP_INTERVAL", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"zero sweep", func(c *Config) { c.Approval.SweepInterval = 0 }},
		{"zero connector timeout", func(c *Config) { c.Compliance.ConnectorTimeout = 0 }},
		{"no batch workers", func(c *Config) { c.Compliance.BatchWorkers = 0 }},
		{"negative schedule", func(c *Config) { c.Compliance.ScheduleInterval = -time.Second }},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/rs/zerolog"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds service configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Approval   ApprovalConfig
	Compliance ComplianceConfig
	Log        LogConfig
}

type ServerConfig struct {
	Addr            string        `env:"SERVER_ADDR" envDefault:"0.0.0.0:8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig selects the repository backend. When URL is empty a DSN is
// assembled from the POSTGRES_* variables.
type DatabaseConfig struct {
	Driver   string `env:"DB_DRIVER" envDefault:"postgres"`
	URL      string `env:"DATABASE_URL"`
	User     string `env:"POSTGRES_USER" envDefault:"czertainly"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"czertainly"`
	Name     string `env:"POSTGRES_DB" envDefault:"czertainly"`
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	SSLMode  string `env:"DATABASE_SSLMODE" envDefault:"disable"`
	Migrate  bool   `env:"DB_MIGRATE" envDefault:"true"`
}

// RedisConfig configures the compliance index existence cache.
type RedisConfig struct {
	Enabled  bool          `env:"REDIS_ENABLED" envDefault:"false"`
	Addr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	TTL      time.Duration `env:"REDIS_INDEX_TTL" envDefault:"10m"`
}

type ApprovalConfig struct {
	SweepInterval       time.Duration `env:"APPROVAL_SWEEP_INTERVAL" envDefault:"1m"`
	SweepBatch          int           `env:"APPROVAL_SWEEP_BATCH" envDefault:"200"`
	VoteRetryMaxElapsed time.Duration `env:"APPROVAL_VOTE_RETRY_MAX_ELAPSED" envDefault:"5s"`
}

type ComplianceConfig struct {
	ConnectorTimeout     time.Duration `env:"COMPLIANCE_CONNECTOR_TIMEOUT" envDefault:"30s"`
	ConnectorConcurrency int           `env:"COMPLIANCE_CONNECTOR_CONCURRENCY" envDefault:"4"`
	ConnectorRetries     int           `env:"COMPLIANCE_CONNECTOR_RETRIES" envDefault:"2"`
	BatchWorkers         int           `env:"COMPLIANCE_BATCH_WORKERS" envDefault:"4"`
	// ScheduleInterval re-checks every compliance profile periodically. Zero disables it.
	ScheduleInterval time.Duration `env:"COMPLIANCE_SCHEDULE_INTERVAL" envDefault:"0s"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Redis); err != nil {
		return nil, fmt.Errorf("parsing redis config: %w", err)
	}
	if err := env.Parse(&cfg.Approval); err != nil {
		return nil, fmt.Errorf("parsing approval config: %w", err)
	}
	if err := env.Parse(&cfg.Compliance); err != nil {
		return nil, fmt.Errorf("parsing compliance config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = cfg.Database.DSN()
	}
	return cfg, nil
}

// DSN builds a postgres URL from the individual connection settings.
func (c *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required when redis is enabled")
	}
	if c.Approval.SweepInterval <= 0 {
		return fmt.Errorf("APPROVAL_SWEEP_INTERVAL must be positive")
	}
	if c.Compliance.ConnectorTimeout <= 0 {
		return fmt.Errorf("COMPLIANCE_CONNECTOR_TIMEOUT must be positive")
	}
	if c.Compliance.ConnectorConcurrency < 1 || c.Compliance.BatchWorkers < 1 {
		return fmt.Errorf("compliance concurrency and batch workers must be at least 1")
	}
	if c.Compliance.ScheduleInterval < 0 {
		return fmt.Errorf("COMPLIANCE_SCHEDULE_INTERVAL must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// LogLevel returns the parsed log level, defaulting to info.
func (c *LogConfig) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// ServerConfig describes the operational HTTP listener (metrics + health).
type ServerConfig struct {
	Host string `env:"OPS_HOST,default=0.0.0.0"`
	Port int    `env:"OPS_PORT,default=8090"`
}

// DatabaseConfig selects the persistence backend. An empty DSN keeps the
// in-memory store.
type DatabaseConfig struct {
	Driver       string `env:"DATABASE_DRIVER,default=postgres"`
	DSN          string `env:"DATABASE_URL"`
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
}

// RedisConfig enables the balance cache when Addr is set.
type RedisConfig struct {
	Addr       string `env:"REDIS_ADDR"`
	Password   string `env:"REDIS_PASSWORD"`
	DB         int    `env:"REDIS_DB,default=0"`
	TTLSeconds int    `env:"REDIS_BALANCE_TTL_SECONDS,default=60"`
}

// LoggingConfig mirrors pkg/logger's configuration.
type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=json"`
	Output     string `env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `env:"LOG_FILE_PREFIX"`
}

// RewardConfig tunes the reward pipeline.
type RewardConfig struct {
	PolicyFile               string `env:"REWARD_POLICY_FILE"`
	ReconcileIntervalSeconds int    `env:"REWARD_RECONCILE_INTERVAL_SECONDS,default=30"`
	EventBufferSize          int    `env:"REWARD_EVENT_BUFFER_SIZE,default=1000"`
}

// Config is the root runtime configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
	Reward   RewardConfig
}

// Load reads configuration from the environment. A .env file, when present,
// is loaded first without overriding already-set variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// Package config reads paddock's environment configuration.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the settings that command-line flags may override.
type Config struct {
	// CPUCount bounds concurrent jobs; 0 uses every CPU.
	CPUCount       int  `env:"PADDOCK_CPU_COUNT" envDefault:"0"`
	SingleThreaded bool `env:"PADDOCK_SINGLE_THREADED" envDefault:"false"`

	LogLevel  string `env:"PADDOCK_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PADDOCK_LOG_FORMAT" envDefault:"console"`

	// DB is the results database. Empty places it next to the first
	// definition file.
	DB string `env:"PADDOCK_DB"`

	// ListenAddr enables the status listener when set.
	ListenAddr string `env:"PADDOCK_LISTEN_ADDR"`

	Redis RedisConfig

	ProgressInterval time.Duration `env:"PADDOCK_PROGRESS_INTERVAL" envDefault:"10s"`
}

// RedisConfig configures the job event publisher. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `env:"PADDOCK_REDIS_ADDR"`
	Password string `env:"PADDOCK_REDIS_PASS"`
	DB       int    `env:"PADDOCK_REDIS_DB" envDefault:"0"`
	Stream   string `env:"PADDOCK_REDIS_STREAM" envDefault:"paddock:jobs"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads configuration from vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.CPUCount < 0 {
		return fmt.Errorf("cpu count must not be negative: %d", c.CPUCount)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.LogFormat)
	}

	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval must not be negative")
	}
	if c.Redis.Addr != "" && c.Redis.Stream == "" {
		return fmt.Errorf("redis stream is required when a redis address is set")
	}
	return nil
}

// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tradepilot/tradepilot/internal/broker"
	httpapi "github.com/tradepilot/tradepilot/internal/interfaces/http"
	"github.com/tradepilot/tradepilot/internal/marketdata"
	"github.com/tradepilot/tradepilot/internal/phase"
	"github.com/tradepilot/tradepilot/internal/regime"
	"github.com/tradepilot/tradepilot/internal/signals"
	"github.com/tradepilot/tradepilot/internal/supervisor"
)

// Storage backends for regime history and the trade journal.
const (
	StorageNone     = "none"
	StorageFile     = "file"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Config is the complete application configuration
type Config struct {
	Supervisor supervisor.Config          `yaml:"supervisor"`
	Schedule   phase.ScheduleConfig       `yaml:"schedule"`
	Regime     regime.Config              `yaml:"regime"`
	Broker     broker.PaperConfig         `yaml:"broker"`
	Data       marketdata.SimulatedConfig `yaml:"data"`
	Server     httpapi.ServerConfig       `yaml:"server"`
	Storage    StorageConfig              `yaml:"storage"`
	Logging    LoggingConfig              `yaml:"logging"`
	Signals    SignalsConfig              `yaml:"signals"`
}

// StorageConfig selects where regime history and trades persist
type StorageConfig struct {
	Backend      string        `yaml:"backend"`       // none, file, redis, postgres
	FilePath     string        `yaml:"file_path"`     // for backend: file
	PostgresDSN  string        `yaml:"postgres_dsn"`  // for backend: postgres
	QueryTimeout time.Duration `yaml:"query_timeout"` // Default: 5s
	Redis        RedisConfig   `yaml:"redis"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig tunes zerolog output
type LoggingConfig struct {
	Level  string `yaml:"level"`  // Default: info
	Pretty bool   `yaml:"pretty"` // Console writer instead of JSON
}

// SignalsConfig enables and tunes the built-in generators
type SignalsConfig struct {
	Momentum      MomentumConfig      `yaml:"momentum"`
	MeanReversion MeanReversionConfig `yaml:"mean_reversion"`
}

// MomentumConfig toggles and tunes the breakout generator
type MomentumConfig struct {
	Enabled                bool `yaml:"enabled"`
	signals.MomentumConfig `yaml:",inline"`
}

// MeanReversionConfig toggles and tunes the RSI reversion generator
type MeanReversionConfig struct {
	Enabled                     bool `yaml:"enabled"`
	signals.MeanReversionConfig `yaml:",inline"`
}

// Default returns a runnable configuration: analysis mode, no storage,
// both generators enabled.
func Default() Config {
	return Config{
		Supervisor: supervisor.DefaultConfig(),
		Schedule:   phase.DefaultScheduleConfig(),
		Regime:     regime.DefaultConfig(),
		Broker:     broker.DefaultPaperConfig(),
		Data:       marketdata.DefaultSimulatedConfig(),
		Server:     httpapi.DefaultServerConfig(),
		Storage: StorageConfig{
			Backend:      StorageNone,
			QueryTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Signals: SignalsConfig{
			Momentum: MomentumConfig{
				Enabled:        true,
				MomentumConfig: signals.MomentumConfig{LookbackBars: 20, BreakoutMargin: 0.001},
			},
			MeanReversion: MeanReversionConfig{
				Enabled:             true,
				MeanReversionConfig: signals.MeanReversionConfig{RSIPeriod: 14},
			},
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints before any component starts
func (c *Config) Validate() error {
	if err := c.Supervisor.Limits.Validate(); err != nil {
		return fmt.Errorf("invalid safety limits: %w", err)
	}
	switch c.Storage.Backend {
	case StorageNone:
	case StorageFile:
		if c.Storage.FilePath == "" {
			return fmt.Errorf("storage backend %q requires file_path", c.Storage.Backend)
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage backend %q requires redis.addr", c.Storage.Backend)
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage backend %q requires postgres_dsn", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}
	if c.Storage.QueryTimeout <= 0 {
		c.Storage.QueryTimeout = 5 * time.Second
	}
	if !c.Signals.Momentum.Enabled && !c.Signals.MeanReversion.Enabled {
		return fmt.Errorf("at least one signal generator must be enabled")
	}
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}
	return nil
}

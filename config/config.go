package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the application configuration
type Config struct {
	Port      string `env:"PORT" envDefault:"3000"`
	MasterKey string `env:"DOCGRID_MASTER_KEY"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	DataPath  string `env:"DATA_PATH" envDefault:"./data"`

	// DefaultTimeField applies time ranges on indexes that declare no time field
	DefaultTimeField string `env:"DEFAULT_TIME_FIELD" envDefault:"@timestamp"`
	ScriptCacheSize  int    `env:"SCRIPT_CACHE_SIZE" envDefault:"256"`

	RemoteTimeout time.Duration `env:"REMOTE_TIMEOUT" envDefault:"30s"`
	// FetchTimeout bounds a whole bulk fetch, zero disables it
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"5m"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.ScriptCacheSize < 0 {
		return nil, fmt.Errorf("SCRIPT_CACHE_SIZE must not be negative, got %d", cfg.ScriptCacheSize)
	}
	return cfg, nil
}

// RequiresAuth returns true if authentication is enabled
func (c *Config) RequiresAuth() bool {
	return c.MasterKey != ""
}

// NewLogger builds the process logger. Debug level switches to the
// development encoder.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}

	var zapConfig zap.Config
	if level == zapcore.DebugLevel {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build()
}

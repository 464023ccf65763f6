package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	// Control plane
	Region           string        `mapstructure:"region"`
	Secure           bool          `mapstructure:"secure"`
	Timeout          time.Duration `mapstructure:"timeout"`
	SignatureVersion string        `mapstructure:"signature_version"`

	// Polling
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// History; empty disables it
	DatabaseURL string `mapstructure:"database_url"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads the configuration from the given path.
// If configPath is empty, it looks for elasticity.yaml in the config/ directory.
// Environment variables with ELASTICITY_ prefix override config file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("region", "us-east-1")
	v.SetDefault("secure", true)
	v.SetDefault("timeout", 60*time.Second)
	v.SetDefault("signature_version", "v4")
	v.SetDefault("poll_interval", 60*time.Second)
	v.SetDefault("database_url", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("elasticity")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ELASTICITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// NewLogger builds a logger with the configured level and format
func (c LoggingConfig) NewLogger() (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(lvl)
	switch c.Format {
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return logger, nil
}

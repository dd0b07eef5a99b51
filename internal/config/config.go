// Package config loads runtime configuration from defaults, an optional YAML
// file and POSTMESSAGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DefaultMaxMessageBytes bounds a single serialized message.
const DefaultMaxMessageBytes = 16 << 20

// Config is the top-level configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Host   HostConfig   `mapstructure:"host"`
	Window WindowConfig `mapstructure:"window"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HostConfig holds limits applied by the message host.
type HostConfig struct {
	// MaxMessageBytes is the largest serialized message a scope will
	// deserialize; 0 disables the check.
	MaxMessageBytes int `mapstructure:"max_message_bytes"`
	// MaxTasksPerTurn bounds how many tasks RunUntilIdle executes.
	MaxTasksPerTurn int `mapstructure:"max_tasks_per_turn"`
}

// WindowConfig holds settings for windows created by the CLI.
type WindowConfig struct {
	Origin     string `mapstructure:"origin"`
	OpenOrigin string `mapstructure:"open_origin"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Host: HostConfig{
			MaxMessageBytes: DefaultMaxMessageBytes,
			MaxTasksPerTurn: 1024,
		},
		Window: WindowConfig{
			Origin:     "https://localhost",
			OpenOrigin: "about:blank",
		},
	}
}

// Load reads configuration. An empty path means no config file; a missing
// file at an explicit path is an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("host.max_message_bytes", def.Host.MaxMessageBytes)
	v.SetDefault("host.max_tasks_per_turn", def.Host.MaxTasksPerTurn)
	v.SetDefault("window.origin", def.Window.Origin)
	v.SetDefault("window.open_origin", def.Window.OpenOrigin)

	v.SetEnvPrefix("POSTMESSAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Host.MaxMessageBytes < 0 {
		return errors.New("host.max_message_bytes must not be negative")
	}
	if c.Host.MaxTasksPerTurn <= 0 {
		return errors.New("host.max_tasks_per_turn must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nace/diskimg/internal/restore"
	"github.com/spf13/viper"
)

// Output formats
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

// Config holds all application configuration
type Config struct {
	// Attach images writable instead of read-only
	Writable bool `mapstructure:"writable"`

	// Let the daemon ask for authorization interactively
	InteractiveAuth bool `mapstructure:"interactive-auth"`

	// Restore progress
	UpdateInterval time.Duration `mapstructure:"update-interval"`
	SlackWarning   uint64        `mapstructure:"slack-warning"`
	InhibitSuspend bool          `mapstructure:"inhibit-suspend"`

	// Skip confirmation prompts
	AssumeYes bool `mapstructure:"assume-yes"`

	// table, json or yaml
	Output string `mapstructure:"output"`
}

// New returns a viper instance with defaults, environment variables
// (DISKIMG_UPDATE_INTERVAL etc.) and the config search path set up
func New() *viper.Viper {
	v := viper.New()

	// Set defaults
	v.SetDefault("writable", false)
	v.SetDefault("interactive-auth", true)
	v.SetDefault("update-interval", restore.DefaultUpdateInterval)
	v.SetDefault("slack-warning", restore.DefaultSlackWarning)
	v.SetDefault("inhibit-suspend", true)
	v.SetDefault("assume-yes", false)
	v.SetDefault("output", OutputTable)

	v.SetEnvPrefix("DISKIMG")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/diskimg")
	v.AddConfigPath("/etc/diskimg")

	return v
}

// Load reads the config file, if any, and unmarshals v. An explicit
// configFile must exist; the search path may come up empty.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.UpdateInterval < restore.DefaultUpdateInterval {
		return fmt.Errorf("update-interval must be at least %v, got %v", restore.DefaultUpdateInterval, c.UpdateInterval)
	}
	switch c.Output {
	case OutputTable, OutputJSON, OutputYAML:
	default:
		return fmt.Errorf("output must be one of table, json, yaml; got %q", c.Output)
	}
	return nil
}

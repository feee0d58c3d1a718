// Package config defines the application configuration and its viper
// binding. Values layer file < environment (POLLCAST_*) < flags, with
// defaults set at command initialization.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Extension ExtensionConfig `mapstructure:"extension"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExtensionConfig identifies this extension to the fan-out API.
// Secret is the base64-encoded shared signing secret; OwnerID is the
// extension owner account used as user_id in outbound tokens.
type ExtensionConfig struct {
	Secret   string `mapstructure:"secret"`
	ClientID string `mapstructure:"client_id"`
	OwnerID  string `mapstructure:"owner_id"`
}

// RelayConfig tunes the broadcast dispatcher.
type RelayConfig struct {
	// APIBaseURL is the fan-out API host; point it at the local
	// developer rig during development.
	APIBaseURL string `mapstructure:"api_base_url"`

	// ChannelCooldown is the minimum interval between two relayed
	// deliveries for one channel.
	ChannelCooldown time.Duration `mapstructure:"channel_cooldown"`

	// UserCooldown is the per-user action window; UserCooldownReset
	// is the whole-table wipe interval.
	UserCooldown      time.Duration `mapstructure:"user_cooldown"`
	UserCooldownReset time.Duration `mapstructure:"user_cooldown_reset"`

	// ServerTokenTTL bounds outbound credential lifetime.
	ServerTokenTTL time.Duration `mapstructure:"server_token_ttl"`
}

// StoreConfig contains channel-state persistence configuration.
// Driver is "memory" (default) or "libsql".
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level: trace, debug, info,
	// warn, error.
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level (SIMPLE,
	// STRUCTURED, ENTERPRISE).
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// FromViper decodes the merged viper state into a Config.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the relay cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Extension.Secret) == "" {
		missing = append(missing, "extension.secret")
	}
	if strings.TrimSpace(c.Extension.ClientID) == "" {
		missing = append(missing, "extension.client_id")
	}
	if strings.TrimSpace(c.Extension.OwnerID) == "" {
		missing = append(missing, "extension.owner_id")
	}
	if len(missing) > 0 {
		return errors.New("missing required config: " + strings.Join(missing, ", "))
	}
	return nil
}

// Package config provides configuration management for robotv using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultListenPort      = 34892
	defaultTimeshiftSize   = 1 << 30 // 1 GiB
	defaultRequestTimeout  = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxConnections  = 64
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Timeshift TimeshiftConfig `mapstructure:"timeshift"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds TCP listener configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	MaxConnections  int           `mapstructure:"max_connections"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedHosts lists CIDR prefixes allowed to connect. Empty means any.
	AllowedHosts []string `mapstructure:"allowed_hosts"`
}

// TimeshiftConfig holds timeshift ring buffer configuration.
type TimeshiftConfig struct {
	// Dir is the directory holding the on-disk ring buffer files.
	Dir string `mapstructure:"dir"`
	// MaxSize is the ring buffer size in bytes per streaming session.
	MaxSize int64 `mapstructure:"max_size"`
}

// ChannelsConfig holds channel handling configuration.
type ChannelsConfig struct {
	// Filter restricts the channel list to entries enabled in the cache.
	Filter bool `mapstructure:"filter"`
}

// DatabaseConfig holds database connection configuration for the
// channel metadata cache.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with ROBOTV_ and use underscores for
// nesting. Example: ROBOTV_SERVER_PORT=34892.
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.New(), configPath)
}

// LoadWith reads configuration into the given viper instance. Passing the
// global instance keeps cobra-bound flags effective.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		// the original server config is a flat "name = value" file
		if strings.HasSuffix(configPath, ".conf") {
			v.SetConfigType("dotenv")
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/robotv")
		v.AddConfigPath("$HOME/.robotv")
	}

	v.SetEnvPrefix("ROBOTV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// no config file is fine - defaults and env vars apply
	}

	applyLegacyKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// legacyKeys maps the flat configuration names of the original plugin
// config file onto their nested equivalents.
var legacyKeys = map[string]string{
	"TimeShiftDir":     "timeshift.dir",
	"MaxTimeShiftSize": "timeshift.max_size",
	"ListenPort":       "server.port",
	"FilterChannels":   "channels.filter",
}

// applyLegacyKeys copies flat legacy settings into their nested keys.
func applyLegacyKeys(v *viper.Viper) {
	for legacy, key := range legacyKeys {
		if v.IsSet(legacy) && !v.IsSet(key) {
			v.Set(key, v.Get(legacy))
		}
	}
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "::")
	v.SetDefault("server.port", defaultListenPort)
	v.SetDefault("server.max_connections", defaultMaxConnections)
	v.SetDefault("server.request_timeout", defaultRequestTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.allowed_hosts", []string{})

	// Timeshift defaults
	v.SetDefault("timeshift.dir", "/video")
	v.SetDefault("timeshift.max_size", defaultTimeshiftSize)

	// Channel defaults
	v.SetDefault("channels.filter", false)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "storage.db")
	v.SetDefault("database.max_open_conns", 6)
	v.SetDefault("database.max_idle_conns", 3)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Timeshift.Dir == "" {
		return fmt.Errorf("timeshift.dir is required")
	}
	if c.Timeshift.MaxSize < 1<<20 {
		return fmt.Errorf("timeshift.max_size must be at least 1 MiB")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the listener address in host:port format.
func (c *ServerConfig) Address() string {
	host := c.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// Package config loads, defaults, and validates the server configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ahmed74ca/Multithreaded-server/pkg/adapter/tcp"
)

// Config represents the complete server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (MSGSERVER_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Journal specifies the session journal store type and settings
	Journal JournalConfig `mapstructure:"journal"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`

	// Metrics controls the metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// before live sessions are force-closed
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// JournalConfig specifies session journal store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type JournalConfig struct {
	// Type specifies which journal store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory MemoryJournalConfig `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger BadgerJournalConfig `mapstructure:"badger"`
}

// MemoryJournalConfig configures the in-memory journal store.
type MemoryJournalConfig struct {
	// MaxEntries bounds the number of retained entries (oldest evicted first)
	MaxEntries int `mapstructure:"max_entries" validate:"gte=0"`
}

// BadgerJournalConfig configures the BadgerDB journal store.
type BadgerJournalConfig struct {
	// Path is the directory where BadgerDB stores its data
	Path string `mapstructure:"path"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// TCP holds the TCP adapter configuration.
	// Uses the tcp.TCPConfig type directly to avoid duplication.
	TCP tcp.TCPConfig `mapstructure:"tcp"`
}

// MetricsConfig controls the metrics HTTP endpoint.
type MetricsConfig struct {
	// Enabled turns the metrics endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Port is the metrics HTTP listen port
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MSGSERVER_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use MSGSERVER_ prefix and underscores
	// Example: MSGSERVER_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("MSGSERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so bind the settable
	// ones explicitly for env-only operation.
	for _, key := range []string{
		"logging.level",
		"server.shutdown_timeout",
		"journal.type",
		"journal.memory.max_entries",
		"journal.badger.path",
		"adapters.tcp.host",
		"adapters.tcp.port",
		"adapters.tcp.max_connections",
		"adapters.tcp.read_timeout",
		"adapters.tcp.write_timeout",
		"adapters.tcp.idle_timeout",
		"adapters.tcp.shutdown_timeout",
		"adapters.tcp.accept_poll_interval",
		"adapters.tcp.max_frame_size",
		"adapters.tcp.accept_rate",
		"adapters.tcp.accept_burst",
		"metrics.enabled",
		"metrics.port",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/msgserver/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable, defaults take over.
		// Viper reports this differently for searched vs explicit paths.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// the current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "msgserver")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "msgserver")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

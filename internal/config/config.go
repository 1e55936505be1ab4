package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "PHOTOTREE"

// AppConfig represents the main application configuration
type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Library   LibraryConfig   `mapstructure:"library"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents the record store connection
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Path            string        `mapstructure:"path"` // sqlite only
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// LibraryConfig locates the photo library on disk
type LibraryConfig struct {
	RootPath     string `mapstructure:"root_path" validate:"required"`
	Workers      int    `mapstructure:"workers" validate:"min=1,max=64"`
	SyncSchedule string `mapstructure:"sync_schedule"` // cron spec, empty disables
}

// LoggingConfig controls the global logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// TracingConfig controls span export
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// RateLimitConfig throttles the expensive sync endpoints
type RateLimitConfig struct {
	SyncLimit  int           `mapstructure:"sync_limit" validate:"min=1"`
	SyncWindow time.Duration `mapstructure:"sync_window"`
}

// Default recommended values
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 10
	DefaultConnMaxLifetime = 30 * time.Minute
	DefaultConnMaxIdleTime = 15 * time.Minute
)

var validate = validator.New()

// ConfigLoader loads configuration using its own viper instance
type ConfigLoader struct {
	viper *viper.Viper
}

// NewConfigLoader creates a loader with search paths and defaults applied
func NewConfigLoader() *ConfigLoader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigLoader{viper: v}
}

// SetConfigFile points the loader at an explicit file
func (l *ConfigLoader) SetConfigFile(path string) {
	l.viper.SetConfigFile(path)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "phototree.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "phototree")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", DefaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", DefaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", DefaultConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", DefaultConnMaxIdleTime)

	v.SetDefault("library.root_path", "./images")
	v.SetDefault("library.workers", 4)
	v.SetDefault("library.sync_schedule", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "phototree")

	v.SetDefault("rate_limit.sync_limit", 10)
	v.SetDefault("rate_limit.sync_window", time.Minute)
}

// Load reads the configuration file (if any), applies environment overrides and validates
func (l *ConfigLoader) Load() (*AppConfig, error) {
	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, using defaults
	}

	var config AppConfig
	if err := l.viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// LoadConfig loads configuration with the default loader
func LoadConfig() (*AppConfig, error) {
	return NewConfigLoader().Load()
}

// validateConfig runs struct tag validation followed by rules tags cannot express
func validateConfig(config *AppConfig) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if err := validate.Struct(config); err != nil {
		return formatValidationError(err)
	}

	switch config.Database.Driver {
	case "sqlite":
		if config.Database.Path == "" {
			return fmt.Errorf("database.path cannot be empty for sqlite")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database.host cannot be empty")
		}
		if config.Database.DBName == "" {
			return fmt.Errorf("database.dbname cannot be empty")
		}
	}

	if config.RateLimit.SyncWindow <= 0 {
		return fmt.Errorf("rate_limit.sync_window must be positive")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

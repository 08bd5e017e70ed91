package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/raaihank/pii-sentinel/internal/store"
)

// envKeys are bound explicitly so SENTINEL_* variables apply even when the
// config file omits the key.
var envKeys = []string{
	"server.port",
	"server.shutdown_timeout",
	"privacy.enabled",
	"privacy.detectors",
	"store.backend",
	"store.path",
	"store.database_url",
	"store.redis_url",
	"store.key_prefix",
	"store.ttl",
	"logging.level",
	"logging.format",
	"upstream.url",
	"upstream.timeout",
	"websocket.enabled",
	"rate_limit.enabled",
	"rate_limit.requests_per_second",
	"rate_limit.burst",
	"metrics.enabled",
	"batch.workers",
	"batch.session_prefix",
}

// LoadDotEnv loads KEY=value pairs from path into the process environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/pii-sentinel/")
	viper.AddConfigPath("$HOME/.pii-sentinel/")

	// Environment variable overrides
	viper.SetEnvPrefix("SENTINEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range envKeys {
		if err := viper.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Store.Backend {
	case store.BackendMemory, store.BackendSQLite, store.BackendPostgres, store.BackendRedis, store.BackendBolt:
	default:
		return fmt.Errorf("invalid store backend: %s (must be memory, sqlite, postgres, redis, or bolt)", config.Store.Backend)
	}

	if (config.Store.Backend == store.BackendSQLite || config.Store.Backend == store.BackendBolt) && config.Store.Path == "" {
		return fmt.Errorf("store path is required for the %s backend", config.Store.Backend)
	}

	if config.Store.Backend == store.BackendPostgres && config.Store.DatabaseURL == "" {
		return fmt.Errorf("store database_url is required for the postgres backend")
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Upstream.Timeout <= 0 {
		return fmt.Errorf("invalid upstream timeout: %s", config.Upstream.Timeout)
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: %v rps, burst %d", config.RateLimit.RequestsPerSecond, config.RateLimit.Burst)
	}

	if config.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d", config.Batch.Workers)
	}

	return nil
}

// Watch starts watching the configuration file for changes. The callback
// receives every reloaded configuration that passes validation; onError
// receives the ones that do not. Without a config file there is nothing to
// watch.
func Watch(callback func(*Config), onError func(error)) {
	if viper.ConfigFileUsed() == "" {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			onError(fmt.Errorf("failed to unmarshal %s: %w", e.Name, err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			onError(fmt.Errorf("invalid configuration in %s: %w", e.Name, err))
			return
		}

		callback(newConfig)
	})
	viper.WatchConfig()
}

package store

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Supported backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendBolt     = "bolt"
)

// Config contains mapping store configuration
type Config struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	// Path is the database file for the sqlite and bolt backends.
	Path string `yaml:"path" mapstructure:"path"`

	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`

	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	TTL            time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// Open creates the backend named by config.Backend.
func Open(config *Config, logger *zap.Logger) (Store, error) {
	switch config.Backend {
	case BackendMemory:
		logger.Info("Mapping store initialized", zap.String("backend", BackendMemory))
		return NewMemoryStore(), nil
	case BackendSQLite, "":
		return NewSQLiteStore(config.Path, logger)
	case BackendPostgres:
		return NewPostgresStore(config, logger)
	case BackendRedis:
		return NewRedisStore(config, logger)
	case BackendBolt:
		return NewBoltStore(config.Path, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, config.Backend)
	}
}

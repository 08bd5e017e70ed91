package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-sentinel/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"all"}, cfg.Privacy.Detectors)
	assert.Equal(t, store.BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "pii_mappings.db", cfg.Store.Path)
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_File(t *testing.T) {
	viper.Reset()
	path := writeConfig(t, `
server:
  port: 9090
privacy:
  detectors: [email, ssn]
store:
  backend: redis
  redis_url: redis://cache:6379/1
  ttl: 1h
logging:
  level: debug
  format: console
upstream:
  url: http://llm.internal/v1/complete
  timeout: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"email", "ssn"}, cfg.Privacy.Detectors)
	assert.Equal(t, store.BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis://cache:6379/1", cfg.Store.RedisURL)
	assert.Equal(t, time.Hour, cfg.Store.TTL)
	assert.Equal(t, "pii", cfg.Store.KeyPrefix, "unset keys keep their defaults")
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Setenv("SENTINEL_STORE_BACKEND", "memory")
	t.Setenv("SENTINEL_LOGGING_LEVEL", "warn")
	t.Setenv("SENTINEL_BATCH_WORKERS", "8")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, store.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 8, cfg.Batch.Workers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"Port", "server:\n  port: 70000\n", "invalid server port"},
		{"Backend", "store:\n  backend: cassandra\n", "invalid store backend"},
		{"PostgresURL", "store:\n  backend: postgres\n", "database_url is required"},
		{"LogLevel", "logging:\n  level: loud\n", "invalid log level"},
		{"RateLimit", "rate_limit:\n  requests_per_second: 0\n", "invalid rate limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	viper.Reset()
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "SENTINEL_BATCH_SESSION_PREFIX"
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-dotenv\n"), 0o600))
	require.NoError(t, LoadDotEnv(path))

	viper.Reset()
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Batch.SessionPrefix)

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestWatch(t *testing.T) {
	viper.Reset()
	path := writeConfig(t, "logging:\n  level: info\n")
	_, err := Load(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	Watch(func(c *Config) { reloaded <- c }, func(error) {})

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}

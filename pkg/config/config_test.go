package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"Rewind/internal/service/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, 4, c.Orchestrator.MaxConcurrentIntervals)
	assert.Equal(t, 3, c.Orchestrator.AgenticMaxAttempts)
	assert.Equal(t, "openai/gpt-4o", c.Orchestrator.DefaultModel)
	assert.Equal(t, 500*time.Millisecond, c.Orchestrator.RetryBackoff)
	assert.Equal(t, StorageFile, c.Storage.Backend)
	assert.Equal(t, "https://api.exa.ai", c.Exa.BaseURL)
	assert.Equal(t, 30*time.Second, c.Sandbox.ExecTimeout)
	assert.True(t, c.Metrics.Enabled)

	limits := c.RateLimits()
	assert.Equal(t, ratelimit.Config{MaxConcurrent: 5, MinDelay: 200 * time.Millisecond, RequestsPerMinute: 15}, limits[ratelimit.ServiceSearch])
	assert.Equal(t, 2, limits[ratelimit.ServiceSandbox].MaxConcurrent)
}

func TestParseOverridesOnlyGivenKeys(t *testing.T) {
	c, err := Parse([]byte(`
environment: production
metrics:
  enabled: false
orchestrator:
  strict_previous_decisions: true
  max_concurrent_intervals: 8
ratelimit:
  search:
    requests_per_minute: 30
storage:
  backend: postgres
postgres:
  dsn: postgres://rewind@localhost/rewind?sslmode=disable
`))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "production", c.Environment)
	assert.False(t, c.Metrics.Enabled)
	assert.True(t, c.Orchestrator.StrictPreviousDecisions)
	assert.Equal(t, 8, c.Orchestrator.MaxConcurrentIntervals)
	assert.Equal(t, 4, c.Orchestrator.ReplicaConcurrency)
	assert.Equal(t, 30, c.RateLimit.Search.RequestsPerMinute)
	assert.Equal(t, 5, c.RateLimit.Search.MaxConcurrent)
	assert.Equal(t, 10, c.Postgres.MaxOpenConns)
}

func TestApplyEnv(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	env := map[string]string{
		"EXA_API_KEY":        "exa",
		"OPENROUTER_API_KEY": "or",
		"DAYTONA_API_KEY":    "dt",
		"SANDBOX_API_URL":    "https://sandbox.internal/api",
		"STORAGE_BACKEND":    "ClickHouse",
		"KAFKA_BROKERS":      "k1:9092, k2:9092,",
		"REDIS_ADDR":         "redis:6379",
	}
	c.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "exa", c.Exa.APIKey)
	assert.Equal(t, "or", c.OpenRouter.APIKey)
	assert.Equal(t, "dt", c.Sandbox.APIKey)
	assert.Equal(t, "https://sandbox.internal/api", c.Sandbox.BaseURL)
	assert.Equal(t, StorageClickHouse, c.Storage.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Kafka.Enabled)
	assert.True(t, c.Redis.Enabled)
	require.NoError(t, c.Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":         func(c *Config) { c.Storage.Backend = "s3" },
		"postgres without dsn":    func(c *Config) { c.Storage.Backend = StoragePostgres },
		"no default model":        func(c *Config) { c.Orchestrator.DefaultModel = "" },
		"bad query bounds":        func(c *Config) { c.Research.MinQueries, c.Research.MaxQueries = 5, 3 },
		"zero concurrency":        func(c *Config) { c.RateLimit.Model.MaxConcurrent = 0 },
		"kafka without brokers":   func(c *Config) { c.Kafka.Enabled = true },
		"queue without redis":     func(c *Config) { c.Queue.Enabled = true },
		"collector without kafka": func(c *Config) { c.Log.Collect = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := Default()
			require.NoError(t, err)
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadWithEnvReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: test\nserver:\n  port: 9090\n"), 0o644))

	t.Setenv("OPENROUTER_API_KEY", "from-env")
	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "from-env", c.OpenRouter.APIKey)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

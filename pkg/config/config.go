package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"Rewind/internal/service/exa"
	"Rewind/internal/service/openrouter"
	"Rewind/internal/service/polymarket"
	"Rewind/internal/service/ratelimit"
	"Rewind/internal/service/sandbox"
	"Rewind/pkg/postgres"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageFile       = "file"
	StorageClickHouse = "clickhouse"
	StoragePostgres   = "postgres"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Log         struct {
		Level      string `yaml:"level" default:"info"`
		Format     string `yaml:"format" default:"console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		// Collect batches error logs and publishes them to Kafka.
		Collect       bool          `yaml:"collect"`
		CollectTopic  string        `yaml:"collect_topic" default:"rewind.logs"`
		BatchSize     int           `yaml:"batch_size" default:"100"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
	} `yaml:"log"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
		CORS            bool          `yaml:"cors" default:"true"`
		// RunBurst and RunRefillPerSec throttle experiment submissions per client IP.
		RunBurst        float64       `yaml:"run_burst" default:"5"`
		RunRefillPerSec float64       `yaml:"run_refill_per_sec" default:"0.1"`
		StreamInterval  time.Duration `yaml:"stream_interval" default:"500ms"`
	} `yaml:"server"`
	Metrics struct {
		Enabled       bool          `yaml:"enabled" default:"true"`
		SlowThreshold time.Duration `yaml:"slow_threshold" default:"2s"`
	} `yaml:"metrics"`
	Orchestrator struct {
		MaxConcurrentIntervals  int           `yaml:"max_concurrent_intervals" default:"4"`
		ReplicaConcurrency      int           `yaml:"replica_concurrency" default:"4"`
		StrictPreviousDecisions bool          `yaml:"strict_previous_decisions"`
		CallRetries             int           `yaml:"call_retries" default:"2"`
		RetryBackoff            time.Duration `yaml:"retry_backoff" default:"500ms"`
		AgenticMaxAttempts      int           `yaml:"agentic_max_attempts" default:"3"`
		Temperature             float64       `yaml:"temperature" default:"0.7"`
		ProgressRetention       time.Duration `yaml:"progress_retention" default:"10m"`
		PersistTimeout          time.Duration `yaml:"persist_timeout" default:"30s"`
		DefaultModel            string        `yaml:"default_model" default:"openai/gpt-4o"`
	} `yaml:"orchestrator"`
	Research struct {
		MinQueries      int  `yaml:"min_queries" default:"3"`
		MaxQueries      int  `yaml:"max_queries" default:"5"`
		ResultsPerQuery int  `yaml:"results_per_query" default:"2"`
		KeepUndated     bool `yaml:"keep_undated"`
	} `yaml:"research"`
	RateLimit struct {
		Market  ratelimit.Config `yaml:"market"`
		Search  ratelimit.Config `yaml:"search"`
		Model   ratelimit.Config `yaml:"model"`
		Sandbox ratelimit.Config `yaml:"sandbox"`
	} `yaml:"ratelimit"`
	Polymarket polymarket.Config `yaml:"polymarket"`
	Exa        exa.Config        `yaml:"exa"`
	OpenRouter openrouter.Config `yaml:"openrouter"`
	Sandbox    sandbox.Config    `yaml:"sandbox"`
	Storage    struct {
		Backend string `yaml:"backend" default:"file"`
		Dir     string `yaml:"dir" default:"data/experiments"`
	} `yaml:"storage"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"rewind"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Postgres postgres.Config `yaml:"postgres"`
	Kafka    struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"rewind.experiments"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled      bool          `yaml:"enabled"`
		Addr         string        `yaml:"addr" default:"localhost:6379"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size" default:"20"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" default:"4s"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
	} `yaml:"redis"`
	Cache struct {
		Enabled       bool          `yaml:"enabled"`
		MetadataTTL   time.Duration `yaml:"metadata_ttl" default:"10m"`
		StateTTL      time.Duration `yaml:"state_ttl" default:"24h"`
		EvidenceTTL   time.Duration `yaml:"evidence_ttl" default:"6h"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"10000"`
		MemoryTTL     time.Duration `yaml:"memory_ttl" default:"1m"`
		Prefix        string        `yaml:"prefix" default:"rewind"`
	} `yaml:"cache"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Prefix     string        `yaml:"prefix" default:"rewind:queue"`
		Workers    int           `yaml:"workers" default:"2"`
		RetryLimit int           `yaml:"retry_limit" default:"1"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
	} `yaml:"queue"`
}

// Default returns a configuration with every default applied, including the
// per-service rate limits.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.RateLimit.Market = ratelimit.Config{MaxConcurrent: 10, MinDelay: 50 * time.Millisecond}
	c.RateLimit.Search = ratelimit.Config{MaxConcurrent: 5, MinDelay: 200 * time.Millisecond, RequestsPerMinute: 15}
	c.RateLimit.Model = ratelimit.Config{MaxConcurrent: 10, MinDelay: 100 * time.Millisecond}
	c.RateLimit.Sandbox = ratelimit.Config{MaxConcurrent: 2, MinDelay: 500 * time.Millisecond}
	return &c, nil
}

// Load reads and parses a YAML configuration file. Keys absent from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides secrets and endpoints with
// environment variables before validating.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.LookupEnv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from lookup, normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
		return "", false
	}

	if v, ok := get("EXA_API_KEY"); ok {
		c.Exa.APIKey = v
	}
	if v, ok := get("OPENROUTER_API_KEY"); ok {
		c.OpenRouter.APIKey = v
	}
	if v, ok := get("SANDBOX_API_KEY", "DAYTONA_API_KEY"); ok {
		c.Sandbox.APIKey = v
	}
	if v, ok := get("SANDBOX_API_URL", "DAYTONA_API_URL"); ok {
		c.Sandbox.BaseURL = v
	}
	if v, ok := get("STORAGE_BACKEND"); ok {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v, ok := get("POSTGRES_DSN"); ok {
		c.Postgres.DSN = v
	}
	if v, ok := get("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	switch c.Storage.Backend {
	case StorageFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the file backend")
		}
	case StorageClickHouse:
		if c.ClickHouse.Host == "" || c.ClickHouse.Database == "" {
			return fmt.Errorf("clickhouse.host and clickhouse.database are required for the clickhouse backend")
		}
	case StoragePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be 'file', 'clickhouse' or 'postgres', got '%s'", c.Storage.Backend)
	}
	o := c.Orchestrator
	if o.MaxConcurrentIntervals < 1 || o.ReplicaConcurrency < 1 {
		return fmt.Errorf("orchestrator concurrency limits must be positive")
	}
	if o.AgenticMaxAttempts < 1 {
		return fmt.Errorf("orchestrator.agentic_max_attempts must be at least 1")
	}
	if o.CallRetries < 0 {
		return fmt.Errorf("orchestrator.call_retries cannot be negative")
	}
	if o.DefaultModel == "" {
		return fmt.Errorf("orchestrator.default_model is required")
	}
	r := c.Research
	if r.MinQueries < 1 || r.MaxQueries < r.MinQueries {
		return fmt.Errorf("research query bounds invalid: min=%d max=%d", r.MinQueries, r.MaxQueries)
	}
	if r.ResultsPerQuery < 1 {
		return fmt.Errorf("research.results_per_query must be at least 1")
	}
	for name, l := range map[string]ratelimit.Config{
		"market": c.RateLimit.Market, "search": c.RateLimit.Search,
		"model": c.RateLimit.Model, "sandbox": c.RateLimit.Sandbox,
	} {
		if l.MaxConcurrent < 1 {
			return fmt.Errorf("ratelimit.%s.max_concurrent must be at least 1", name)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	// the cache falls back to memory without redis; the queue cannot
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires redis.enabled")
	}
	if c.Log.Collect && !c.Kafka.Enabled {
		return fmt.Errorf("log.collect requires kafka.enabled")
	}
	return nil
}

// RateLimits returns the per-service limiter table.
func (c *Config) RateLimits() map[ratelimit.Service]ratelimit.Config {
	return map[ratelimit.Service]ratelimit.Config{
		ratelimit.ServiceMarket:  c.RateLimit.Market,
		ratelimit.ServiceSearch:  c.RateLimit.Search,
		ratelimit.ServiceModel:   c.RateLimit.Model,
		ratelimit.ServiceSandbox: c.RateLimit.Sandbox,
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/lock"
	"github.com/dungkhmt/serp-sub000/pkg/observability"
	"github.com/dungkhmt/serp-sub000/pkg/outbox"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/storage/postgres"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Worker        WorkerConfig        `yaml:"worker"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the health and metrics HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL           string        `yaml:"url"`
	MaxConns      int           `yaml:"max_conns"`
	MinConns      int           `yaml:"min_conns"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxLifetime   time.Duration `yaml:"max_lifetime"`
	MaxIdleTime   time.Duration `yaml:"max_idle_time"`
	RunMigrations bool          `yaml:"run_migrations"`
}

// RedisConfig holds the job lock Redis configuration. An empty URL keeps
// job locks in process.
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MaxRetries int    `yaml:"max_retries"`
	PoolSize   int    `yaml:"pool_size"`
	KeyPrefix  string `yaml:"key_prefix"`
}

// WorkerConfig holds the scheduled job configuration
type WorkerConfig struct {
	OutboxSchedule string        `yaml:"outbox_schedule"`
	ExpirySchedule string        `yaml:"expiry_schedule"`
	ExpiryBatch    int           `yaml:"expiry_batch"`
	BatchSize      int           `yaml:"batch_size"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Lease          time.Duration `yaml:"lease"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	BacklogLimit   int           `yaml:"backlog_limit"`
}

// CatalogConfig holds the plan cache configuration
type CatalogConfig struct {
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Log            observability.LogConfig     `yaml:"log"`
	MetricsEnabled bool                        `yaml:"metrics_enabled"`
	Tracing        observability.TracingConfig `yaml:"tracing"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	outboxDefaults := outbox.DefaultConfig()
	cacheDefaults := plans.DefaultCacheConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			URL:           "postgres://localhost:5432/serp?sslmode=disable",
			MaxConns:      20,
			MinConns:      5,
			Timeout:       5 * time.Second,
			MaxLifetime:   30 * time.Minute,
			MaxIdleTime:   5 * time.Minute,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			KeyPrefix: "serp:jobs:",
		},
		Worker: WorkerConfig{
			OutboxSchedule: "@every 30s",
			ExpirySchedule: "*/5 * * * *",
			ExpiryBatch:    200,
			BatchSize:      outboxDefaults.BatchSize,
			MaxAttempts:    outboxDefaults.MaxAttempts,
			BaseBackoff:    outboxDefaults.BaseBackoff,
			MaxBackoff:     outboxDefaults.MaxBackoff,
			Lease:          outboxDefaults.Lease,
			LockTTL:        5 * time.Minute,
			BacklogLimit:   1000,
		},
		Catalog: CatalogConfig{
			CacheSize: cacheDefaults.Size,
			CacheTTL:  cacheDefaults.TTL,
		},
		Observability: ObservabilityConfig{
			Log:            observability.LogConfig{Level: "info", Format: "json"},
			MetricsEnabled: true,
			Tracing: observability.TracingConfig{
				Endpoint:    "localhost:4317",
				ServiceName: "serp-subscriptions",
				Insecure:    true,
				SampleRatio: 1,
			},
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// SERP_CONFIG_FILE when set, and SERP_* environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()
	if path := getEnv("SERP_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("SERP_HTTP_ADDR", c.Server.Addr)
	c.Server.ReadTimeout = getEnvDuration("SERP_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERP_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("SERP_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERP_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Database.URL = getEnv("SERP_POSTGRES_URL", c.Database.URL)
	c.Database.MaxConns = getEnvInt("SERP_POSTGRES_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvInt("SERP_POSTGRES_MIN_CONNS", c.Database.MinConns)
	c.Database.Timeout = getEnvDuration("SERP_POSTGRES_TIMEOUT", c.Database.Timeout)
	c.Database.RunMigrations = getEnvBool("SERP_RUN_MIGRATIONS", c.Database.RunMigrations)

	c.Redis.URL = getEnv("SERP_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("SERP_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("SERP_REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("SERP_REDIS_POOL_SIZE", c.Redis.PoolSize)

	c.Worker.OutboxSchedule = getEnv("SERP_OUTBOX_SCHEDULE", c.Worker.OutboxSchedule)
	c.Worker.ExpirySchedule = getEnv("SERP_EXPIRY_SCHEDULE", c.Worker.ExpirySchedule)
	c.Worker.ExpiryBatch = getEnvInt("SERP_EXPIRY_BATCH", c.Worker.ExpiryBatch)
	c.Worker.BatchSize = getEnvInt("SERP_OUTBOX_BATCH_SIZE", c.Worker.BatchSize)
	c.Worker.MaxAttempts = getEnvInt("SERP_OUTBOX_MAX_ATTEMPTS", c.Worker.MaxAttempts)
	c.Worker.BaseBackoff = getEnvDuration("SERP_OUTBOX_BASE_BACKOFF", c.Worker.BaseBackoff)
	c.Worker.MaxBackoff = getEnvDuration("SERP_OUTBOX_MAX_BACKOFF", c.Worker.MaxBackoff)
	c.Worker.LockTTL = getEnvDuration("SERP_JOB_LOCK_TTL", c.Worker.LockTTL)
	c.Worker.BacklogLimit = getEnvInt("SERP_OUTBOX_BACKLOG_LIMIT", c.Worker.BacklogLimit)

	c.Catalog.CacheSize = getEnvInt("SERP_PLAN_CACHE_SIZE", c.Catalog.CacheSize)
	c.Catalog.CacheTTL = getEnvDuration("SERP_PLAN_CACHE_TTL", c.Catalog.CacheTTL)

	c.Observability.Log.Level = getEnv("SERP_LOG_LEVEL", c.Observability.Log.Level)
	c.Observability.Log.Format = getEnv("SERP_LOG_FORMAT", c.Observability.Log.Format)
	c.Observability.MetricsEnabled = getEnvBool("SERP_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.Tracing.Enabled = getEnvBool("SERP_TRACING_ENABLED", c.Observability.Tracing.Enabled)
	c.Observability.Tracing.Endpoint = getEnv("SERP_OTLP_ENDPOINT", c.Observability.Tracing.Endpoint)
	c.Observability.Tracing.Insecure = getEnvBool("SERP_OTLP_INSECURE", c.Observability.Tracing.Insecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("http address is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("postgres max connections must be positive")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("postgres min connections (%d) exceed max connections (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if _, err := cron.ParseStandard(c.Worker.OutboxSchedule); err != nil {
		return fmt.Errorf("invalid outbox schedule %q: %w", c.Worker.OutboxSchedule, err)
	}
	if _, err := cron.ParseStandard(c.Worker.ExpirySchedule); err != nil {
		return fmt.Errorf("invalid expiry schedule %q: %w", c.Worker.ExpirySchedule, err)
	}
	if c.Worker.BatchSize <= 0 || c.Worker.ExpiryBatch <= 0 {
		return fmt.Errorf("worker batch sizes must be positive")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("outbox max attempts must be positive")
	}
	if c.Worker.BaseBackoff <= 0 || c.Worker.MaxBackoff < c.Worker.BaseBackoff {
		return fmt.Errorf("outbox backoff must satisfy 0 < base (%s) <= max (%s)", c.Worker.BaseBackoff, c.Worker.MaxBackoff)
	}
	if c.Worker.LockTTL <= 0 {
		return fmt.Errorf("job lock TTL must be positive")
	}
	if c.Worker.BacklogLimit < 0 {
		return fmt.Errorf("outbox backlog limit must not be negative")
	}

	if c.Catalog.CacheSize <= 0 {
		return fmt.Errorf("plan cache size must be positive")
	}

	switch strings.ToLower(c.Observability.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.Log.Format)
	}
	if t := c.Observability.Tracing; t.Enabled {
		if t.Endpoint == "" {
			return fmt.Errorf("tracing endpoint is required when tracing is enabled")
		}
		if t.SampleRatio < 0 || t.SampleRatio > 1 {
			return fmt.Errorf("tracing sample ratio must be within [0, 1], got %v", t.SampleRatio)
		}
	}
	return nil
}

// Connection returns the database pool settings.
func (c DatabaseConfig) Connection() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		URL:         c.URL,
		MaxConns:    c.MaxConns,
		MinConns:    c.MinConns,
		Timeout:     c.Timeout,
		MaxLifetime: c.MaxLifetime,
		MaxIdleTime: c.MaxIdleTime,
	}
}

// Enabled reports whether a Redis URL is configured.
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// Options returns the Redis client options.
func (c RedisConfig) Options() lock.RedisOptions {
	return lock.RedisOptions{
		URL:        c.URL,
		Password:   c.Password,
		DB:         c.DB,
		MaxRetries: c.MaxRetries,
		PoolSize:   c.PoolSize,
	}
}

// Outbox returns the outbox worker settings.
func (c WorkerConfig) Outbox() outbox.Config {
	return outbox.Config{
		BatchSize:   c.BatchSize,
		MaxAttempts: c.MaxAttempts,
		BaseBackoff: c.BaseBackoff,
		MaxBackoff:  c.MaxBackoff,
		Lease:       c.Lease,
	}
}

// Cache returns the plan cache settings.
func (c CatalogConfig) Cache() plans.CacheConfig {
	return plans.CacheConfig{Size: c.CacheSize, TTL: c.CacheTTL}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

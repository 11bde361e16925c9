package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the Flowline engine
type Config struct {
	// Server configuration
	HTTPPort int    `env:"FLOWLINE_HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage configuration
	Storage StorageConfig

	// Redis configuration (event relay + webhook dedup)
	Redis RedisConfig

	// n8n bridge configuration
	N8N N8NConfig

	// Worker configuration
	Workers WorkerConfig

	// Engine configuration
	Engine EngineConfig
}

// StorageConfig selects the run state backend
type StorageConfig struct {
	// Driver is "memory" or "sqlite"
	Driver string `env:"STORAGE_DRIVER" envDefault:"memory"`
	// Path is the SQLite database file, used when Driver is "sqlite"
	Path string `env:"STORAGE_PATH" envDefault:"flowline.db"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize    int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	DialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
}

// N8NConfig holds the external n8n bridge configuration. The "n8n" step
// type is only registered when BaseURL is set.
type N8NConfig struct {
	BaseURL string `env:"N8N_BASE_URL"`
	APIKey  string `env:"N8N_API_KEY"`
}

// WorkerConfig holds worker pool configuration. A waiting subworkflow step
// holds a worker for the whole child run, so PoolSize bounds how many
// subworkflow steps can wait concurrently before the pool stalls.
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"8"`
	QueueDepth          int           `env:"WORKER_QUEUE_DEPTH" envDefault:"64"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// EngineConfig holds execution engine tuning
type EngineConfig struct {
	StepTimeout     time.Duration `env:"ENGINE_STEP_TIMEOUT" envDefault:"300s"`
	DedupWindow     time.Duration `env:"ENGINE_DEDUP_WINDOW" envDefault:"24h"`
	ShutdownTimeout time.Duration `env:"ENGINE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("sqlite storage requires STORAGE_PATH")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	if c.N8N.BaseURL != "" && c.N8N.APIKey == "" {
		return fmt.Errorf("n8n bridge requires N8N_API_KEY")
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.QueueDepth < 1 {
		return fmt.Errorf("worker queue depth must be at least 1")
	}

	if c.Engine.StepTimeout <= 0 {
		return fmt.Errorf("engine step timeout must be positive")
	}
	if c.Engine.DedupWindow <= 0 {
		return fmt.Errorf("dedup window must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

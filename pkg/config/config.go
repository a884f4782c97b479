package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for sting-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Listener for health and metrics endpoints
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration, only required when blob.backend is "redis"
	Redis RedisConfig `yaml:"redis"`

	// Sample payload storage
	Blob BlobConfig `yaml:"blob"`

	Limits LimitsConfig `yaml:"limits"`
	Cache  CacheConfig  `yaml:"cache"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port            int           `yaml:"port" env:"PGPORT" env-default:"5432"`
	User            string        `yaml:"user" env:"PGUSER" env-default:"sting"`
	Password        string        `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database        string        `yaml:"database" env:"PGDATABASE" env-default:"sting"`
	SSLMode         string        `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections  int32         `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"21"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"PGMAX_CONN_LIFETIME" env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"PGMAX_CONN_IDLE_TIME" env-default:"30m"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// BlobConfig selects where sample payloads are written.
type BlobConfig struct {
	// Backend is "file" or "redis".
	Backend   string `yaml:"backend" env:"BLOB_BACKEND" env-default:"file"`
	SampleDir string `yaml:"sample_dir" env:"SAMPLE_DIR" env-default:"samples"`
	KeyPrefix string `yaml:"key_prefix" env:"BLOB_KEY_PREFIX" env-default:"sample:"`
}

// LimitsConfig holds query limits enforced by the core.
type LimitsConfig struct {
	// PageSize is the ceiling applied to every list and search operation.
	PageSize int `yaml:"page_size" env:"PAGE_SIZE" env-default:"32"`
}

// CacheConfig sizes the in-process get-or-create id cache. Zero, the default,
// disables it. A cached id is re-checked against its table before each use.
type CacheConfig struct {
	IDCacheSize int `yaml:"id_cache_size" env:"ID_CACHE_SIZE" env-default:"0"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Blob.Backend {
	case "file":
		if c.Blob.SampleDir == "" {
			return fmt.Errorf("blob.sample_dir is required for the file backend")
		}
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("redis.host is required for the redis blob backend")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.Blob.Backend)
	}

	if c.Limits.PageSize <= 0 {
		return fmt.Errorf("limits.page_size must be positive, got %d", c.Limits.PageSize)
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database.max_connections must be positive, got %d", c.Database.MaxConnections)
	}
	if c.Cache.IDCacheSize < 0 {
		return fmt.Errorf("cache.id_cache_size must not be negative")
	}
	return nil
}

// IsDevelopment reports whether the process runs in a local or development environment.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "local" || env == "dev" || env == "development" || env == "test"
}

// ListenAddr returns the host:port of the health and metrics listener.
func (c *Config) ListenAddr() string {
	return c.BindAddr + ":" + c.Port
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", resolveHostForDocker(c.Host), c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Addr returns the Redis host:port.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", resolveHostForDocker(c.Host), c.Port)
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// resolveHostForDocker maps loopback hosts to host.docker.internal when the
// process runs inside a container, so a collector in Docker reaches a database
// on the host machine.
func resolveHostForDocker(host string) string {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	if isDockerResult && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}

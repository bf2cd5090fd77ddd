// Package config loads the learnforge YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Sternrassler/learnforge/pkg/admission"
	"github.com/Sternrassler/learnforge/pkg/cache"
	"github.com/Sternrassler/learnforge/pkg/fanout"
	"github.com/Sternrassler/learnforge/pkg/gateway"
	"github.com/Sternrassler/learnforge/pkg/logging"
	"github.com/Sternrassler/learnforge/pkg/provider"
	"github.com/Sternrassler/learnforge/pkg/quality"
	"github.com/Sternrassler/learnforge/pkg/ratelimit"
	"github.com/Sternrassler/learnforge/pkg/server"
	"github.com/Sternrassler/learnforge/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Durable tier backends.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// Config holds all learnforge configuration.
type Config struct {
	Listen          string        `yaml:"listen"`
	AdminToken      string        `yaml:"admin_token"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`

	Log        logging.Config       `yaml:"log"`
	Durable    DurableConfig        `yaml:"durable"`
	Cache      cache.Config         `yaml:"cache"`
	Admission  admission.Config     `yaml:"admission"`
	Fanout     fanout.Config        `yaml:"fanout"`
	Quality    quality.Config       `yaml:"quality"`
	Telemetry  telemetry.Config     `yaml:"telemetry"`
	Provider   provider.Config      `yaml:"provider"`
	Upstream   ratelimit.Config     `yaml:"upstream_limit"`
	Identities []gateway.Credential `yaml:"identities"`
	TTL        gateway.TTLs         `yaml:"ttl"`
}

// DurableConfig selects and configures the durable cache tier.
type DurableConfig struct {
	// Backend is "redis", "sqlite" or "none"
	Backend string       `yaml:"backend"`
	Redis   RedisConfig  `yaml:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

// RedisConfig configures the Redis durable tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// SQLiteConfig configures the SQLite durable tier.
type SQLiteConfig struct {
	Path string `yaml:"path"`

	// SweepInterval is how often expired rows are deleted; 0 disables sweeping
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:          ":8080",
		ShutdownTimeout: 15 * time.Second,
		Log:             logging.DefaultConfig(),
		Durable: DurableConfig{
			Backend: BackendRedis,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 20,
			},
			SQLite: SQLiteConfig{
				Path:          "learnforge-cache.db",
				SweepInterval: 10 * time.Minute,
			},
		},
		Cache:     cache.DefaultConfig(),
		Admission: admission.DefaultConfig(),
		Fanout:    fanout.DefaultConfig(),
		Quality:   quality.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
		Provider:  provider.DefaultConfig(),
		Upstream:  ratelimit.DefaultConfig(),
		TTL:       gateway.DefaultTTLs(),
	}
}

// Load reads a YAML config file, expands environment variables and
// applies it over the defaults. The result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse applies YAML data over the defaults without validating.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if err := server.ValidateTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, err)
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	switch c.Durable.Backend {
	case BackendRedis:
		if c.Durable.Redis.Addr == "" {
			errs = append(errs, errors.New("durable.redis.addr is required"))
		}
	case BackendSQLite:
		if c.Durable.SQLite.Path == "" {
			errs = append(errs, errors.New("durable.sqlite.path is required"))
		}
	case BackendNone:
	default:
		errs = append(errs, fmt.Errorf("durable.backend must be redis, sqlite or none (got %q)", c.Durable.Backend))
	}

	if c.Cache.LocalCapacity <= 0 || c.Cache.Shards <= 0 || c.Cache.VersionSlots <= 0 {
		errs = append(errs, errors.New("cache: local_capacity, shards and version_slots must be positive"))
	}
	if err := c.Admission.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("admission: %w", err))
	}
	if err := c.Fanout.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fanout: %w", err))
	}
	if _, err := quality.New(c.Quality); err != nil {
		errs = append(errs, fmt.Errorf("quality: %w", err))
	}
	if c.Provider.URL == "" {
		errs = append(errs, errors.New("provider.url is required"))
	}
	if err := c.Upstream.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("upstream_limit: %w", err))
	}

	if _, err := gateway.NewStaticResolver(c.Identities); err != nil {
		errs = append(errs, err)
	}
	for i, id := range c.Identities {
		if id.Tier == "" {
			continue
		}
		if _, ok := c.Admission.Tiers[id.Tier]; !ok {
			errs = append(errs, fmt.Errorf("identities[%d]: unknown tier %q", i, id.Tier))
		}
	}

	return errors.Join(errs...)
}

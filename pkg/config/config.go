// Package config loads and writes the storyline configuration file.
//
// The file is TOML:
//
//	[layout]
//	height = 400.0
//	margin_slots = 2
//	ordering = "barycentric"
//
//	[server]
//	addr = ":8080"
//	rate_limit = 10.0
//	burst = 20
//
//	[cache]
//	backend = "file"   # file, memory, redis or none
//	dir = ""
//	redis_addr = "localhost:6379"
//	ttl = "24h"
//
//	[query]
//	cluster_field = "year"
//	backend_url = ""
//	timeout = "30s"
//
// Missing keys keep their defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/storyline/pkg/errors"
	"github.com/matzehuels/storyline/pkg/pipeline"
)

// Cache backends.
const (
	CacheFile   = "file"
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// CacheBackends lists the accepted [cache] backend values.
var CacheBackends = []string{CacheFile, CacheMemory, CacheRedis, CacheNone}

// Config is the whole configuration file.
type Config struct {
	Layout LayoutConfig `toml:"layout"`
	Server ServerConfig `toml:"server"`
	Cache  CacheConfig  `toml:"cache"`
	Query  QueryConfig  `toml:"query"`
}

type LayoutConfig struct {
	Height      float64 `toml:"height"`
	MarginSlots int     `toml:"margin_slots"`
	Ordering    string  `toml:"ordering"`
}

type ServerConfig struct {
	Addr      string  `toml:"addr"`
	RateLimit float64 `toml:"rate_limit"` // requests per second per client, 0 disables
	Burst     int     `toml:"burst"`
}

type CacheConfig struct {
	Backend   string   `toml:"backend"`
	Dir       string   `toml:"dir"` // empty means the user cache directory
	RedisAddr string   `toml:"redis_addr"`
	TTL       Duration `toml:"ttl"`
}

type QueryConfig struct {
	ClusterField string   `toml:"cluster_field"`
	BackendURL   string   `toml:"backend_url"`
	Timeout      Duration `toml:"timeout"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Layout: LayoutConfig{
			Height:      pipeline.DefaultHeight,
			MarginSlots: pipeline.DefaultMarginSlots,
			Ordering:    pipeline.DefaultOrdering,
		},
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 10,
			Burst:     20,
		},
		Cache: CacheConfig{
			Backend:   CacheFile,
			RedisAddr: "localhost:6379",
			TTL:       Duration{24 * time.Hour},
		},
		Query: QueryConfig{
			ClusterField: pipeline.DefaultClusterField,
			Timeout:      Duration{30 * time.Second},
		},
	}
}

// DefaultPath returns the config file location under the user config
// directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config dir: %w", err)
	}
	return filepath.Join(dir, "storyline", "config.toml"), nil
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, errors.Wrap(errors.ErrCodeInvalidConfig, err, "%s", path)
	}
	return cfg, nil
}

// Decode parses TOML into cfg and validates the result. Unknown keys are
// rejected.
func Decode(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return fmt.Errorf("unknown key %q", undec[0].String())
	}
	return cfg.Validate()
}

// Write stores cfg at path, creating parent directories.
func Write(path string, cfg Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if err := pipeline.ValidateOrdering(c.Layout.Ordering); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "layout.ordering")
	}
	if c.Layout.Height < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "layout.height must not be negative")
	}
	if c.Layout.MarginSlots < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "layout.margin_slots must not be negative")
	}
	if c.Server.RateLimit < 0 || c.Server.Burst < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "server.rate_limit and server.burst must not be negative")
	}
	if !slices.Contains(CacheBackends, c.Cache.Backend) {
		return errors.New(errors.ErrCodeInvalidConfig, "cache.backend must be one of %v, got %q", CacheBackends, c.Cache.Backend)
	}
	if c.Cache.Backend == CacheRedis && c.Cache.RedisAddr == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "cache.redis_addr is required for the redis backend")
	}
	if c.Query.ClusterField == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "query.cluster_field must not be empty")
	}
	return nil
}

// LayoutOptions returns pipeline options seeded from the [layout] section.
func (c Config) LayoutOptions() pipeline.Options {
	return pipeline.Options{
		Height:      c.Layout.Height,
		MarginSlots: c.Layout.MarginSlots,
		Ordering:    c.Layout.Ordering,
	}
}

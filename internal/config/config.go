// Package config loads the settings of a librecur deployment from a YAML
// file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cyp0633/librecur/cache"
	"github.com/cyp0633/librecur/filter"
)

// Environment variables overriding the file
const (
	EnvEnvironment = "LIBRECUR_ENV"
	EnvStore       = "LIBRECUR_STORE"
	EnvDSN         = "LIBRECUR_DSN"
)

// Store kinds
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Cache presets, named after the cache package's configs
const (
	PresetDefault     = "default"
	PresetHighTraffic = "high_traffic"
	PresetLowMemory   = "low_memory"
)

// StoreConfig selects the record store
type StoreConfig struct {
	Kind string `yaml:"kind"`
	DSN  string `yaml:"dsn"`
}

// CacheConfig configures the window cache. Zero durations keep the preset's
// values.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Preset        string        `yaml:"preset"`
	Previous      time.Duration `yaml:"previous"`
	Next          time.Duration `yaml:"next"`
	Tick          time.Duration `yaml:"tick"`
	RefreshPeriod time.Duration `yaml:"refresh_period"`
	MinTick       time.Duration `yaml:"min_tick"`
}

// FilterConfig configures the filter factory
type FilterConfig struct {
	// Zones are IANA names of the zones daily patterns are expected in
	Zones []string `yaml:"zones"`
	// Flags as printed by filter.Flags.String, e.g. "no_precise"
	Flags []string `yaml:"flags"`
}

// Config is the top-level configuration
type Config struct {
	// Environment is "production" or "development"
	Environment string       `yaml:"environment"`
	LogLevel    string       `yaml:"log_level"`
	Store       StoreConfig  `yaml:"store"`
	Cache       CacheConfig  `yaml:"cache"`
	Filter      FilterConfig `yaml:"filter"`
}

// DefaultConfig returns an in-memory setup with the cache enabled
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		Store:       StoreConfig{Kind: StoreMemory},
		Cache:       CacheConfig{Enabled: true, Preset: PresetDefault},
		Filter:      FilterConfig{Zones: []string{"UTC"}},
	}
}

// Normalize fills in zero values left by partial files
func (c *Config) Normalize() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Store.Kind = strings.ToLower(strings.TrimSpace(c.Store.Kind))
	if c.Store.Kind == "" {
		c.Store.Kind = StoreMemory
	}
	if c.Cache.Preset == "" {
		c.Cache.Preset = PresetDefault
	}
	if c.Filter.Zones == nil {
		c.Filter.Zones = []string{"UTC"}
	}
}

// Validate checks the settings that Normalize cannot fix
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store %s requires a dsn (set %s)", c.Store.Kind, EnvDSN)
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
	if _, err := c.Filter.Locations(); err != nil {
		return err
	}
	if _, err := c.Filter.ParsedFlags(); err != nil {
		return err
	}
	if c.Cache.Enabled {
		if _, err := c.Cache.Build(); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the YAML file at path, then the .env file at envFile, then the
// environment. Either file may be missing or empty-named.
func Load(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			cfg = &Config{}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		// Variables already in the environment win over the file
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if v := os.Getenv(EnvEnvironment); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv(EnvStore); v != "" {
		cfg.Store.Kind = v
	}
	if v := os.Getenv(EnvDSN); v != "" {
		cfg.Store.DSN = v
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Build returns the cache configuration: the preset with any non-zero
// overrides applied
func (c CacheConfig) Build() (cache.Config, error) {
	var out cache.Config
	switch c.Preset {
	case PresetDefault, "":
		out = cache.DefaultConfig
	case PresetHighTraffic:
		out = cache.HighTrafficConfig
	case PresetLowMemory:
		out = cache.LowMemoryConfig
	default:
		return cache.Config{}, fmt.Errorf("unknown cache preset %q", c.Preset)
	}

	for _, o := range []struct {
		dst *time.Duration
		v   time.Duration
	}{
		{&out.Previous, c.Previous},
		{&out.Next, c.Next},
		{&out.Tick, c.Tick},
		{&out.RefreshPeriod, c.RefreshPeriod},
		{&out.MinTick, c.MinTick},
	} {
		if o.v != 0 {
			*o.dst = o.v
		}
	}
	if err := out.Validate(); err != nil {
		return cache.Config{}, err
	}
	return out, nil
}

// Locations loads the configured zones
func (f FilterConfig) Locations() ([]*time.Location, error) {
	out := make([]*time.Location, 0, len(f.Zones))
	for _, name := range f.Zones {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("filter zone %q: %w", name, err)
		}
		out = append(out, loc)
	}
	return out, nil
}

// ParsedFlags parses the configured flag names
func (f FilterConfig) ParsedFlags() (filter.Flags, error) {
	flags, ok := filter.ParseFlags(f.Flags)
	if !ok {
		return 0, fmt.Errorf("unknown filter flag in %v", f.Flags)
	}
	return flags, nil
}

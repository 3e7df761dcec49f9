// Package config provides configuration management for diskmesh.
//
// Config file locations (priority order):
//  1. $DISKMESH_CONFIG
//  2. ./diskmesh.yaml
//  3. $XDG_CONFIG_HOME/diskmesh/config.yaml or ~/.config/diskmesh/config.yaml
//  4. /etc/diskmesh/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultDBPath            = "./diskmesh.db"
	defaultAddr              = ":8080"
	defaultMaxCables         = 64
	defaultMaxScanNodes      = 4096
	defaultBayCapacity       = 7
	defaultReconcileInterval = 5 * time.Second
	defaultRefreshInterval   = time.Second
	defaultCacheSize         = 1024
	defaultCacheTTL          = 5 * time.Minute
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		// No config found - return defaults
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes, defaults and validates a config document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{Server: ServerConfig{Metrics: true}}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults. A zero topology bound
// in the file means the default, not unbounded.
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Database.Path == "" {
		c.Database.Path = defaultDBPath
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Topology.MaxCables == 0 {
		c.Topology.MaxCables = defaultMaxCables
	}
	if c.Topology.MaxScanNodes == 0 {
		c.Topology.MaxScanNodes = defaultMaxScanNodes
	}
	if c.Storage.BayCapacity == 0 {
		c.Storage.BayCapacity = defaultBayCapacity
	}
	if c.Schedule.ReconcileInterval == 0 {
		c.Schedule.ReconcileInterval = Duration(defaultReconcileInterval)
	}
	if c.Schedule.RefreshInterval == 0 {
		c.Schedule.RefreshInterval = Duration(defaultRefreshInterval)
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = defaultCacheSize
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = Duration(defaultCacheTTL)
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Topology.MaxCables < 0 {
		errs = append(errs, errors.New("topology.max_cables must not be negative"))
	}
	if c.Topology.MaxScanNodes < 0 {
		errs = append(errs, errors.New("topology.max_scan_nodes must not be negative"))
	}
	if c.Storage.BayCapacity < 1 {
		errs = append(errs, errors.New("storage.bay_capacity must be at least 1"))
	}
	if c.Schedule.ReconcileInterval.Duration() <= 0 {
		errs = append(errs, errors.New("schedule.reconcile_interval must be positive"))
	}
	if c.Schedule.RefreshInterval.Duration() <= 0 {
		errs = append(errs, errors.New("schedule.refresh_interval must be positive"))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, errors.New("cache.size must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	return fmt.Sprintf("db=%s addr=%s max_cables=%d max_scan_nodes=%d reconcile=%s",
		c.Database.Path, c.Server.Addr, c.Topology.MaxCables, c.Topology.MaxScanNodes,
		c.Schedule.ReconcileInterval.Duration())
}

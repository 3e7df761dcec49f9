package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version  int            `yaml:"version"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Topology TopologyConfig `yaml:"topology"`
	Storage  StorageConfig  `yaml:"storage"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Cache    CacheConfig    `yaml:"cache"`
	World    WorldConfig    `yaml:"world"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"` // expose /metrics
}

// LogConfig mirrors logging.Config
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// TopologyConfig bounds traversals. Both values can be changed while the
// server runs.
type TopologyConfig struct {
	MaxCables    int `yaml:"max_cables"`
	MaxScanNodes int `yaml:"max_scan_nodes"`
}

// StorageConfig holds bay and disk settings
type StorageConfig struct {
	BayCapacity int `yaml:"bay_capacity"`
}

// ScheduleConfig holds periodic task intervals
type ScheduleConfig struct {
	ReconcileInterval Duration `yaml:"reconcile_interval"`
	RefreshInterval   Duration `yaml:"refresh_interval"`
}

// CacheConfig sizes the network validity cache
type CacheConfig struct {
	Size int      `yaml:"size"`
	TTL  Duration `yaml:"ttl"`
}

// WorldConfig points at an optional layout file loaded at startup
type WorldConfig struct {
	Layout string `yaml:"layout,omitempty"`
	Owner  string `yaml:"owner,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

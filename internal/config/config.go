// Package config loads lspcore configuration from YAML: which server to
// launch per language, plus request and health tuning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "LSPCORE_CONFIG"

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "500ms", or from integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string or integer, got %s", value.Tag)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level configuration.
type Config struct {
	// Languages maps language IDs to server launch settings.
	Languages map[string]ServerEntry `yaml:"languages"`

	// Requests tunes request dispatch.
	Requests RequestSettings `yaml:"requests"`

	// Health tunes probing and crash recovery.
	Health HealthSettings `yaml:"health"`

	// WorkspaceRoot overrides project root detection.
	WorkspaceRoot string `yaml:"workspace_root"`
}

// ServerEntry describes how to launch one language server.
type ServerEntry struct {
	Command               string         `yaml:"command"`
	Args                  []string       `yaml:"args"`
	Env                   []string       `yaml:"env"`
	WorkDir               string         `yaml:"workdir"`
	InitializationOptions map[string]any `yaml:"initialization_options"`
}

// RequestSettings tune the request manager.
type RequestSettings struct {
	Timeout          Duration `yaml:"timeout"`
	DebounceInterval Duration `yaml:"debounce_interval"`
	MaxInFlight      int      `yaml:"max_in_flight"`
}

// HealthSettings tune the health monitor.
type HealthSettings struct {
	ProbeInterval    Duration `yaml:"probe_interval"`
	ProbeTimeout     Duration `yaml:"probe_timeout"`
	DegradedLatency  Duration `yaml:"degraded_latency"`
	FailureThreshold int      `yaml:"failure_threshold"`
	MaxRestarts      int      `yaml:"max_restarts"`
	InitialBackoff   Duration `yaml:"initial_backoff"`
	MaxBackoff       Duration `yaml:"max_backoff"`
	ResetWindow      Duration `yaml:"reset_window"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Languages: make(map[string]ServerEntry),
		Requests: RequestSettings{
			Timeout:          Duration(10 * time.Second),
			DebounceInterval: Duration(150 * time.Millisecond),
			MaxInFlight:      32,
		},
		Health: HealthSettings{
			ProbeInterval:    Duration(30 * time.Second),
			ProbeTimeout:     Duration(5 * time.Second),
			DegradedLatency:  Duration(2 * time.Second),
			FailureThreshold: 3,
			MaxRestarts:      5,
			InitialBackoff:   Duration(500 * time.Millisecond),
			MaxBackoff:       Duration(30 * time.Second),
			ResetWindow:      Duration(60 * time.Second),
		},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "lspcore", "config.yaml")
}

// Load reads configuration from path. An empty path falls back to
// DefaultPath; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects entries that cannot launch a server.
func (c *Config) Validate() error {
	for lang, entry := range c.Languages {
		if entry.Command == "" {
			return fmt.Errorf("language %q: command is required", lang)
		}
	}
	if c.Requests.MaxInFlight < 0 {
		return fmt.Errorf("requests.max_in_flight must be >= 0")
	}
	if c.Health.FailureThreshold < 0 {
		return fmt.Errorf("health.failure_threshold must be >= 0")
	}
	return nil
}

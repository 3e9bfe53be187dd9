// Package config loads runner configuration and resolves the filesystem
// roots all coordination state lives under.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file omits a field.
const (
	DefaultPollInterval    = 5 * time.Second
	DefaultHeartbeatMaxAge = 90 * time.Second
	DefaultOutboxMaxLines  = 200
	DefaultMaxRetries      = 3
	DefaultQuarantineAfter = 5
)

// Duration wraps time.Duration so YAML can express intervals as "5s" or
// as integer milliseconds.
type Duration time.Duration

// UnmarshalYAML accepts either a Go duration string or a millisecond count.
// A bare integer scalar decodes as a string under yaml.v3, so the numeric
// form is dispatched on the node tag.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var ms int64
		if err := value.Decode(&ms); err != nil {
			return fmt.Errorf("invalid millisecond count %q: %w", value.Value, err)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string or millisecond count: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// BackendConfig describes the external process each worker session runs.
type BackendConfig struct {
	Provider string   `yaml:"provider"`
	Model    string   `yaml:"model"`
	Command  []string `yaml:"command"`
}

// Config is the full runner configuration.
type Config struct {
	PollInterval    Duration      `yaml:"pollInterval"`
	HeartbeatMaxAge Duration      `yaml:"heartbeatMaxAge"`
	OutboxMaxLines  int           `yaml:"outboxMaxLines"`
	MaxRetries      int           `yaml:"maxRetries"`
	QuarantineAfter int           `yaml:"quarantineAfter"`
	Backend         BackendConfig `yaml:"backend"`
}

// DefaultConfig returns a config with every field at its default.
func DefaultConfig() Config {
	return Config{
		PollInterval:    Duration(DefaultPollInterval),
		HeartbeatMaxAge: Duration(DefaultHeartbeatMaxAge),
		OutboxMaxLines:  DefaultOutboxMaxLines,
		MaxRetries:      DefaultMaxRetries,
		QuarantineAfter: DefaultQuarantineAfter,
		Backend: BackendConfig{
			Provider: "claude",
			Command:  []string{"teambridge-worker"},
		},
	}
}

// Load reads a YAML config file, layering it over the defaults. A missing
// file yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the runner cannot operate under.
func (c Config) Validate() error {
	if c.PollInterval.Std() <= 0 {
		return fmt.Errorf("pollInterval must be positive")
	}
	if c.OutboxMaxLines < 0 {
		return fmt.Errorf("outboxMaxLines cannot be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries cannot be negative")
	}
	if c.QuarantineAfter <= 0 {
		return fmt.Errorf("quarantineAfter must be positive")
	}
	if len(c.Backend.Command) == 0 {
		return fmt.Errorf("backend.command cannot be empty")
	}
	return nil
}

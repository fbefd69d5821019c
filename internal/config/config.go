// Package config loads the server configuration from YAML. One file
// configures the host, the core subsystems and every module's bound
// configuration mapping, mirroring how modules receive their settings at
// load time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/djames1987/DracoSoft-Server/pkg/logger"
)

// DefaultPath is used when neither the flag nor the environment variable
// names a config file.
const DefaultPath = "config/server.yaml"

// EnvPath overrides the config file location.
const EnvPath = "DRACO_CONFIG"

// Config is the root configuration document.
type Config struct {
	Server  ServerConfig         `yaml:"server"`
	Logging logger.LoggingConfig `yaml:"logging"`
	Events  EventsConfig         `yaml:"events"`
	Ops     OpsConfig            `yaml:"ops"`
	Modules ModulesConfig        `yaml:"modules"`
}

// ServerConfig identifies the host process.
type ServerConfig struct {
	Name string `yaml:"name"`
}

// EventsConfig tunes the event bus.
type EventsConfig struct {
	QueueSize   int `yaml:"queue_size"`
	HistorySize int `yaml:"history_size"`
}

// OpsConfig configures the ops HTTP surface.
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// ModulesConfig binds module configuration and startup ordering.
type ModulesConfig struct {
	// LoadOrder lists module names loaded and enabled at startup, in order.
	LoadOrder []string `yaml:"load_order"`

	// Configs maps module name to its opaque configuration mapping, applied
	// by the manager before the module's load hook runs.
	Configs map[string]map[string]any `yaml:"configs"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Name: "draco"},
		Logging: logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Events:  EventsConfig{QueueSize: 4096, HistorySize: 1000},
		Ops:     OpsConfig{Addr: ":8880"},
		Modules: ModulesConfig{
			LoadOrder: []string{"sqlite", "users", "network", "auth", "ops"},
			Configs: map[string]map[string]any{
				"network": {
					"host":                 "0.0.0.0",
					"port":                 8889,
					"max_message_bytes":    1 << 20,
					"idle_timeout_seconds": int(5 * time.Minute / time.Second),
				},
				"sqlite": {
					"path": "data/server.db",
				},
			},
		},
	}
}

// Load reads the config file at path, falling back to defaults for absent
// sections. A missing file is an error; use Default when no file is wanted.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to defaults
// otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Path resolves the config file location: explicit argument, then the
// environment variable, then the default.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(EnvPath); v != "" {
		return v
	}
	return DefaultPath
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	if c.Events.QueueSize < 0 {
		return fmt.Errorf("events.queue_size must not be negative")
	}
	if c.Events.HistorySize < 0 {
		return fmt.Errorf("events.history_size must not be negative")
	}
	seen := make(map[string]bool, len(c.Modules.LoadOrder))
	for _, name := range c.Modules.LoadOrder {
		if name == "" {
			return fmt.Errorf("modules.load_order contains an empty name")
		}
		if seen[name] {
			return fmt.Errorf("modules.load_order lists %q twice", name)
		}
		seen[name] = true
	}
	return nil
}

// ModuleConfig returns the bound mapping for one module, or nil. The ops
// section folds into the ops module's mapping; an explicit module config
// still wins.
func (c *Config) ModuleConfig(name string) map[string]any {
	cfg := c.Modules.Configs[name]
	if name == "ops" && c.Ops.Addr != "" {
		merged := map[string]any{"addr": c.Ops.Addr}
		for k, v := range cfg {
			merged[k] = v
		}
		return merged
	}
	return cfg
}

// Package config provides configuration loading and management for Repoforge.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Repoforge configuration
type Config struct {
	Templates TemplatesConfig `yaml:"templates"`
	Output    OutputConfig    `yaml:"output"`
	State     StateConfig     `yaml:"state"`
	API       APIConfig       `yaml:"api"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	NATS      NATSConfig      `yaml:"nats"`
	Registry  RegistryConfig  `yaml:"registry"`
}

// TemplatesConfig configures the template library
type TemplatesConfig struct {
	// Root is the template library root directory
	Root string `yaml:"root"`
	// Watch enables hot-reload of the library on filesystem changes
	Watch bool `yaml:"watch"`
}

// OutputConfig configures where composed systems are written
type OutputConfig struct {
	// Root is the directory composed system trees land in
	Root string `yaml:"root"`
}

// StateConfig configures the orchestration memory directory
type StateConfig struct {
	// Dir holds the memory files (system state, decisions, telemetry,
	// architecture map)
	Dir string `yaml:"dir"`
}

// APIConfig configures the HTTP control plane
type APIConfig struct {
	// Key is the bearer token; empty disables authentication
	Key string `yaml:"key"`
	// MaxComposeSeconds bounds a single composition run
	MaxComposeSeconds int `yaml:"max_compose_seconds"`
	// QueueDepth bounds concurrent compose requests
	QueueDepth int `yaml:"queue_depth"`
}

// DispatchConfig configures manifest forwarding to the scaffold worker
type DispatchConfig struct {
	// Transport selects the forwarder: webhook, stream, or dir
	Transport string `yaml:"transport"`
	// Repo is the owner/name target for the webhook transport
	Repo string `yaml:"repo"`
	// Token authenticates the webhook transport
	Token string `yaml:"token"`
	// Dir is the spool directory for the dir transport
	Dir string `yaml:"dir"`
	// Log is an optional JSON-lines dispatch attempt log
	Log string `yaml:"log"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// RegistryConfig configures the agent capability registry
type RegistryConfig struct {
	// Path points to a registry JSON file (empty = built-in defaults)
	Path string `yaml:"path"`
}

// dispatchTransports is the closed set of dispatch transports.
var dispatchTransports = map[string]bool{
	"webhook": true, "stream": true, "dir": true,
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Templates: TemplatesConfig{
			Root:  "templates",
			Watch: false,
		},
		Output: OutputConfig{
			Root: "out",
		},
		State: StateConfig{
			Dir: ".memory",
		},
		API: APIConfig{
			MaxComposeSeconds: 120,
			QueueDepth:        64,
		},
		Dispatch: DispatchConfig{
			Transport: "webhook",
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Templates.Root == "" {
		return fmt.Errorf("templates.root is required")
	}
	if c.Output.Root == "" {
		return fmt.Errorf("output.root is required")
	}
	if !dispatchTransports[c.Dispatch.Transport] {
		return fmt.Errorf("dispatch.transport must be webhook, stream, or dir, got %q", c.Dispatch.Transport)
	}
	if c.Dispatch.Transport == "dir" && c.Dispatch.Dir == "" {
		return fmt.Errorf("dispatch.dir is required for the dir transport")
	}
	if c.API.MaxComposeSeconds < 0 {
		return fmt.Errorf("api.max_compose_seconds must not be negative")
	}
	if c.API.QueueDepth < 0 {
		return fmt.Errorf("api.queue_depth must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Templates
	if other.Templates.Root != "" {
		c.Templates.Root = other.Templates.Root
	}
	if other.Templates.Watch {
		c.Templates.Watch = true
	}

	// Output
	if other.Output.Root != "" {
		c.Output.Root = other.Output.Root
	}

	// State
	if other.State.Dir != "" {
		c.State.Dir = other.State.Dir
	}

	// API
	if other.API.Key != "" {
		c.API.Key = other.API.Key
	}
	if other.API.MaxComposeSeconds != 0 {
		c.API.MaxComposeSeconds = other.API.MaxComposeSeconds
	}
	if other.API.QueueDepth != 0 {
		c.API.QueueDepth = other.API.QueueDepth
	}

	// Dispatch
	if other.Dispatch.Transport != "" {
		c.Dispatch.Transport = other.Dispatch.Transport
	}
	if other.Dispatch.Repo != "" {
		c.Dispatch.Repo = other.Dispatch.Repo
	}
	if other.Dispatch.Token != "" {
		c.Dispatch.Token = other.Dispatch.Token
	}
	if other.Dispatch.Dir != "" {
		c.Dispatch.Dir = other.Dispatch.Dir
	}
	if other.Dispatch.Log != "" {
		c.Dispatch.Log = other.Dispatch.Log
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Registry
	if other.Registry.Path != "" {
		c.Registry.Path = other.Registry.Path
	}
}

package composeapi

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"
)

// composeAPISchema holds the configuration schema generated from Config.
var composeAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the compose-api component.
type Config struct {
	// TemplateRoot is the template library root directory.
	TemplateRoot string `json:"template_root" schema:"type:string,description:Template library root,category:basic,default:templates"`

	// OutputRoot is where composed trees are promoted.
	OutputRoot string `json:"output_root" schema:"type:string,description:Output root for composed systems,category:basic,default:out"`

	// StateDir is the memory store directory. Falls back to the STATE_DIR
	// environment variable, then ".memory".
	StateDir string `json:"state_dir" schema:"type:string,description:Memory state directory,category:basic,default:"`

	// APIKey enables bearer authentication when non-empty. Falls back to the
	// API_KEY environment variable; unset skips auth (development mode).
	APIKey string `json:"api_key" schema:"type:string,description:Bearer token for API auth,category:advanced,default:"`

	// DispatchRepo is the owner/name repository receiving dispatch events.
	// Falls back to the TEMPLATE_REPO environment variable.
	DispatchRepo string `json:"dispatch_repo" schema:"type:string,description:Target repository for webhook dispatch,category:advanced,default:"`

	// DispatchToken authenticates against the downstream worker. Falls back
	// to the DISPATCH_TOKEN environment variable.
	DispatchToken string `json:"dispatch_token" schema:"type:string,description:Token for the downstream worker,category:advanced,default:"`

	// DispatchTransport selects the forwarder: webhook, stream, or dir.
	DispatchTransport string `json:"dispatch_transport" schema:"type:string,description:Dispatch transport,category:advanced,default:webhook"`

	// DispatchDir is the queue directory for the dir transport.
	DispatchDir string `json:"dispatch_dir" schema:"type:string,description:Queue directory for dir transport,category:advanced,default:"`

	// DispatchLog is an optional file receiving per-attempt dispatch outcomes.
	DispatchLog string `json:"dispatch_log" schema:"type:string,description:Dispatch attempt log file,category:advanced,default:"`

	// RegistryPath points at a registry JSON file; empty uses compiled-in
	// defaults.
	RegistryPath string `json:"registry_path" schema:"type:string,description:Capability registry file,category:advanced,default:"`

	// MaxComposeSeconds bounds one composition. Falls back to the
	// MAX_COMPOSE_SECONDS environment variable, then 120.
	MaxComposeSeconds int `json:"max_compose_seconds" schema:"type:int,description:Composition timeout in seconds,category:advanced,default:120"`

	// QueueDepth bounds concurrent compose requests; overflow returns 503.
	QueueDepth int `json:"queue_depth" schema:"type:int,description:Concurrent compose request budget,category:advanced,default:64"`

	// WatchLibrary rebuilds the catalog when the template library changes.
	WatchLibrary bool `json:"watch_library" schema:"type:bool,description:Reload catalog on library edits,category:advanced,default:false"`

	// Ports declares optional HTTP port configuration.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Port configuration,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		TemplateRoot:      "templates",
		OutputRoot:        "out",
		DispatchTransport: "webhook",
		MaxComposeSeconds: 120,
		QueueDepth:        64,
	}
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	switch c.DispatchTransport {
	case "webhook", "stream", "dir":
	default:
		return fmt.Errorf("dispatch_transport must be webhook, stream, or dir, got %q", c.DispatchTransport)
	}
	if c.DispatchTransport == "dir" && c.DispatchDir == "" {
		return fmt.Errorf("dispatch_dir is required for the dir transport")
	}
	if c.MaxComposeSeconds < 0 {
		return fmt.Errorf("max_compose_seconds cannot be negative")
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("queue_depth cannot be negative")
	}
	return nil
}

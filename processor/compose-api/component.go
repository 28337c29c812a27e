// Package composeapi provides the control plane HTTP surface: health,
// discovery, manifest validation and dispatch, and the intent-routed chat
// endpoint. The API is stateless; all caches are read-only snapshots loaded
// at startup.
package composeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/repoforge/catalog"
	"github.com/c360studio/repoforge/dispatch"
	"github.com/c360studio/repoforge/registry"
	"github.com/c360studio/repoforge/storage"
)

// ServiceName identifies this component.
const ServiceName = "compose-api"

// Version is reported by /health and the component metadata.
const Version = "0.1.0"

// Component implements the compose-api component.
type Component struct {
	name       string
	config     Config
	logger     *slog.Logger
	natsClient *natsclient.Client

	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	jobs       *storage.JobStore

	// catalog holds the current library snapshot; the watcher (when enabled)
	// swaps it on library edits.
	catalog atomic.Pointer[catalog.Catalog]
	watcher *catalog.Watcher

	// sem bounds concurrent compose requests.
	sem chan struct{}

	// Lifecycle state machine
	// States: 0=stopped, 1=starting, 2=running, 3=stopping
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
}

const (
	stateStopped  = 0
	stateStarting = 1
	stateRunning  = 2
	stateStopping = 3
)

// NewComponent constructs a compose-api Component from raw JSON config and deps.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.TemplateRoot == "" {
		config.TemplateRoot = defaults.TemplateRoot
	}
	if config.OutputRoot == "" {
		config.OutputRoot = defaults.OutputRoot
	}
	if config.DispatchTransport == "" {
		config.DispatchTransport = defaults.DispatchTransport
	}
	if config.MaxComposeSeconds == 0 {
		config.MaxComposeSeconds = defaults.MaxComposeSeconds
	}
	if config.QueueDepth == 0 {
		config.QueueDepth = defaults.QueueDepth
	}
	applyEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       ServiceName,
		config:     config,
		logger:     deps.GetLogger(),
		natsClient: deps.NATSClient,
		sem:        make(chan struct{}, config.QueueDepth),
	}, nil
}

// applyEnv fills unset config fields from the environment.
func applyEnv(config *Config) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("API_KEY")
	}
	if config.DispatchRepo == "" {
		config.DispatchRepo = os.Getenv("TEMPLATE_REPO")
	}
	if config.DispatchToken == "" {
		config.DispatchToken = os.Getenv("DISPATCH_TOKEN")
	}
	if config.StateDir == "" {
		config.StateDir = os.Getenv("STATE_DIR")
	}
	if config.StateDir == "" {
		config.StateDir = ".memory"
	}
	if env := os.Getenv("MAX_COMPOSE_SECONDS"); env != "" {
		if secs, err := strconv.Atoi(env); err == nil && secs > 0 {
			config.MaxComposeSeconds = secs
		}
	}
}

// Initialize loads the catalog snapshot, the capability registry, and wires
// the dispatcher.
func (c *Component) Initialize() error {
	cat, err := catalog.Load(c.config.TemplateRoot, c.logger)
	if err != nil {
		return fmt.Errorf("load template catalog: %w", err)
	}
	c.catalog.Store(cat)

	reg, err := registry.Load(c.config.RegistryPath)
	if err != nil {
		return fmt.Errorf("load capability registry: %w", err)
	}
	c.reg = reg

	fw, err := c.buildForwarder()
	if err != nil {
		return err
	}
	var opts []dispatch.Option
	if c.config.DispatchLog != "" {
		opts = append(opts, dispatch.WithLogFile(c.config.DispatchLog))
	}
	c.dispatcher = dispatch.New(fw, c.logger, opts...)

	c.logger.Debug("Initialized compose-api",
		"template_root", c.config.TemplateRoot,
		"templates", cat.Len(),
		"dispatch_configured", c.dispatcher.Configured(),
		"auth_enabled", c.config.APIKey != "")
	return nil
}

// buildForwarder selects the dispatch transport from configuration. A
// transport without its credentials yields a nil forwarder: dispatch is
// skipped, not failed.
func (c *Component) buildForwarder() (dispatch.Forwarder, error) {
	switch c.config.DispatchTransport {
	case "webhook":
		if c.config.DispatchRepo == "" || c.config.DispatchToken == "" {
			return nil, nil
		}
		return dispatch.NewWebhookForwarder(c.config.DispatchRepo, c.config.DispatchToken), nil
	case "stream":
		if c.natsClient == nil {
			return nil, nil
		}
		return &dispatch.StreamForwarder{Publisher: c.natsClient}, nil
	case "dir":
		return &dispatch.DirForwarder{Dir: c.config.DispatchDir}, nil
	}
	return nil, fmt.Errorf("unknown dispatch transport %q", c.config.DispatchTransport)
}

// Start begins serving the component.
func (c *Component) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		current := c.state.Load()
		if current == stateRunning || current == stateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", current)
	}

	defer func() {
		if c.state.Load() == stateStarting {
			c.state.Store(stateStopped)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)

	if c.config.WatchLibrary {
		watcher, err := catalog.NewWatcher(runCtx, c.config.TemplateRoot, c.logger)
		if err != nil {
			cancel()
			return fmt.Errorf("watch template library: %w", err)
		}
		c.watcher = watcher
	}

	// Job bookkeeping is best-effort: without NATS the API still serves.
	if c.natsClient != nil {
		js, err := c.natsClient.JetStream()
		if err != nil {
			c.logger.Warn("JetStream unavailable, compose jobs will not be recorded", "error", err)
		} else if jobs, err := storage.NewJobStore(runCtx, js); err != nil {
			c.logger.Warn("Job store unavailable", "error", err)
		} else {
			c.jobs = jobs
		}
	}

	c.mu.Lock()
	c.cancel = cancel
	c.startTime = time.Now()
	c.mu.Unlock()

	c.state.Store(stateRunning)
	c.logger.Info("compose-api started",
		"templates", c.currentCatalog().Len(),
		"catalog_version", c.currentCatalog().Snapshot())
	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	if !c.state.CompareAndSwap(stateRunning, stateStopping) {
		current := c.state.Load()
		if current == stateStopped || current == stateStopping {
			return nil
		}
		return fmt.Errorf("component in unexpected state: %d", current)
	}

	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c.dispatcher != nil {
		c.dispatcher.Close()
	}

	c.state.Store(stateStopped)
	c.logger.Info("compose-api stopped")
	return nil
}

// currentCatalog returns the active catalog snapshot. When watching, the
// watcher's pointer wins so library edits show up without a restart.
func (c *Component) currentCatalog() *catalog.Catalog {
	if c.watcher != nil {
		return c.watcher.Current()
	}
	return c.catalog.Load()
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        ServiceName,
		Type:        "processor",
		Description: "Control plane API for manifest-driven repository composition",
		Version:     Version,
	}
}

// InputPorts returns an empty port list — this component has no NATS inputs.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns an empty port list — dispatch publishing is handled
// through the configured transport, not a declared port.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return composeAPISchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	state := c.state.Load()
	running := state == stateRunning

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch state {
	case stateStarting:
		status = "starting"
	case stateRunning:
		status = "running"
	case stateStopping:
		status = "stopping"
	}

	return component.HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c360studio/repoforge/config"
	composeapi "github.com/c360studio/repoforge/processor/compose-api"
)

const apiPrefix = "api/v1"

func newServeCmd(version string) *cobra.Command {
	var (
		configPath string
		httpAddr   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the composition control plane",
		Long: `Serve runs the HTTP control plane: health, template discovery,
manifest validation and dispatch, and the intent-routed chat endpoint.
Prometheus metrics are exposed on /metrics.

NATS is optional: when unreachable, stream dispatch and compose job
bookkeeping are disabled and the API serves everything else.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, httpAddr, version)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&httpAddr, "addr", ":8080", "HTTP listen address")
	return cmd
}

func runServe(configPath, httpAddr, version string) error {
	logger := slog.Default()

	cfg, err := loadServeConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	// NATS is best-effort: the control plane serves without it.
	var natsClient *natsclient.Client
	if cfg.NATS.URL != "" {
		natsClient, err = connectNATS(ctx, cfg.NATS.URL, logger)
		if err != nil {
			logger.Warn("NATS unavailable, continuing without stream dispatch and job records",
				"url", cfg.NATS.URL, "error", err)
			natsClient = nil
		} else {
			defer natsClient.Close(ctx)
		}
	}

	rawConfig, err := json.Marshal(composeapi.Config{
		TemplateRoot:      cfg.Templates.Root,
		OutputRoot:        cfg.Output.Root,
		StateDir:          cfg.State.Dir,
		APIKey:            cfg.API.Key,
		DispatchRepo:      cfg.Dispatch.Repo,
		DispatchToken:     cfg.Dispatch.Token,
		DispatchTransport: cfg.Dispatch.Transport,
		DispatchDir:       cfg.Dispatch.Dir,
		DispatchLog:       cfg.Dispatch.Log,
		RegistryPath:      cfg.Registry.Path,
		MaxComposeSeconds: cfg.API.MaxComposeSeconds,
		QueueDepth:        cfg.API.QueueDepth,
		WatchLibrary:      cfg.Templates.Watch,
	})
	if err != nil {
		return fmt.Errorf("marshal component config: %w", err)
	}

	// Register the component factory so embedding hosts can discover it;
	// serve constructs the single instance directly.
	componentRegistry := component.NewRegistry()
	if err := composeapi.Register(componentRegistry); err != nil {
		return fmt.Errorf("register compose-api: %w", err)
	}
	logger.Debug("Component factories registered",
		"count", len(componentRegistry.ListFactories()))

	comp, err := composeapi.NewComponent(rawConfig, component.Dependencies{
		Logger:     logger,
		NATSClient: natsClient,
	})
	if err != nil {
		return fmt.Errorf("create compose-api: %w", err)
	}
	api, ok := comp.(*composeapi.Component)
	if !ok {
		return fmt.Errorf("unexpected component type %T", comp)
	}

	if err := api.Initialize(); err != nil {
		return fmt.Errorf("initialize compose-api: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := api.Start(signalCtx); err != nil {
		return fmt.Errorf("start compose-api: %w", err)
	}

	mux := http.NewServeMux()
	api.RegisterHTTPHandlers(apiPrefix, mux)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Control plane listening",
			"addr", httpAddr,
			"version", version,
			"prefix", "/"+apiPrefix)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errCh:
		logger.Error("HTTP server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown", "error", err)
	}
	if err := api.Stop(30 * time.Second); err != nil {
		logger.Error("Component stop", "error", err)
	}

	logger.Info("Repoforge shutdown complete")
	return nil
}

func loadServeConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config.ApplyEnv(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.NewLoader(logger).Load()
}

func connectNATS(ctx context.Context, url string, logger *slog.Logger) (*natsclient.Client, error) {
	logger.Info("Connecting to NATS", "url", url)

	client, err := natsclient.NewClient(url,
		natsclient.WithName("repoforge"),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	logger.Info("Connected to NATS", "url", url)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or unset NATS_URL to run without stream dispatch.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

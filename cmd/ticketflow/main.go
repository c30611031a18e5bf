// Package main provides the ticketflow binary entry point.
// Ticketflow drives ticket-triggered code changes through analysis,
// approval, implementation, build, and test phases on top of the
// semstreams framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/componentregistry"
	"github.com/c360studio/semstreams/config"
	"github.com/c360studio/semstreams/metric"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/semstreams/service"
	"github.com/c360studio/semstreams/types"
	"github.com/spf13/cobra"

	appconfig "github.com/c360studio/ticketflow/config"
	ticketapi "github.com/c360studio/ticketflow/processor/ticket-api"
	ticketorchestrator "github.com/c360studio/ticketflow/processor/ticket-orchestrator"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "ticketflow"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		repoPath string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "ticketflow",
		Short: "Ticket-driven code change pipeline",
		Long: `Ticketflow turns tracker tickets into reviewed code changes.

A triggered ticket is analyzed, the resulting plan is posted for
approval, and on approval the change is implemented on a branch,
built, tested, and opened as a pull request. Progress for each
ticket streams over NATS and SSE.

All components communicate via NATS using the semstreams framework.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(repoPath, logLevel)
		},
	}

	cmd.Flags().StringVar(&repoPath, "repo", ".", "Repository path to operate on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(repoPath, logLevel string) error {
	// Configure logging
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Resolve repo path
	absRepoPath, err := filepath.Abs(repoPath)
	if err != nil {
		return fmt.Errorf("resolve repo path: %w", err)
	}
	info, err := os.Stat(absRepoPath)
	if err != nil {
		return fmt.Errorf("stat repo path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", absRepoPath)
	}

	// Load layered ticketflow configuration (defaults, user, project)
	appCfg, err := appconfig.NewLoader(logger).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// An explicit --repo flag wins over config and git autodetection.
	if repoPath != "." || appCfg.Repo.Path == "" {
		appCfg.Repo.Path = absRepoPath
	}

	cfg := buildPlatformConfig(appCfg)

	// Connect to NATS
	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	// Ensure JetStream streams exist
	if err := ensureStreams(ctx, cfg, natsClient, logger); err != nil {
		return err
	}

	slog.Info("Ticketflow ready",
		"version", Version,
		"repo_path", appCfg.Repo.Path)

	metricsRegistry := metric.NewMetricsRegistry()
	platform := extractPlatformMeta(cfg)

	// Create and start config manager
	configManager, err := config.NewConfigManager(cfg, natsClient, logger)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := configManager.Start(ctx); err != nil {
		return fmt.Errorf("start config manager: %w", err)
	}
	defer configManager.Stop(5 * time.Second)

	// Create and populate component registry
	componentRegistry := component.NewRegistry()

	slog.Debug("Registering semstreams component factories")
	if err := componentregistry.Register(componentRegistry); err != nil {
		return fmt.Errorf("register semstreams components: %w", err)
	}

	slog.Debug("Registering ticketflow component factories")
	if err := ticketorchestrator.Register(componentRegistry); err != nil {
		return fmt.Errorf("register ticket-orchestrator: %w", err)
	}
	if err := ticketapi.Register(componentRegistry); err != nil {
		return fmt.Errorf("register ticket-api: %w", err)
	}

	factories := componentRegistry.ListFactories()
	slog.Info("Component factories registered", "count", len(factories))

	// Create service registry and manager
	serviceRegistry := service.NewServiceRegistry()
	if err := service.RegisterAll(serviceRegistry); err != nil {
		return fmt.Errorf("register services: %w", err)
	}

	manager := service.NewServiceManager(serviceRegistry)
	ensureServiceManagerConfig(cfg)

	svcDeps := &service.Dependencies{
		NATSClient:        natsClient,
		MetricsRegistry:   metricsRegistry,
		Logger:            logger,
		Platform:          platform,
		Manager:           configManager,
		ComponentRegistry: componentRegistry,
	}

	if err := configureAndCreateServices(cfg, manager, svcDeps); err != nil {
		return err
	}

	slog.Info("All services configured")

	// Setup signal handling
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("Starting all services")
	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("All services started successfully")

	// Block until shutdown signal
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownTimeout := 30 * time.Second
	if err := manager.StopAll(shutdownTimeout); err != nil {
		slog.Error("Error stopping services", "error", err)
	}

	slog.Info("Ticketflow shutdown complete")
	return nil
}

// buildPlatformConfig maps the ticketflow configuration onto the
// semstreams platform config, wiring component configs and the TICKET
// stream.
func buildPlatformConfig(appCfg *appconfig.Config) *config.Config {
	orchestratorConfig := map[string]any{
		"repo_root":      appCfg.Repo.Path,
		"base_branch":    appCfg.Repo.BaseBranch,
		"data_dir":       appCfg.Workflow.DataDir,
		"auto_approve":   appCfg.Workflow.AutoApprove,
		"guard_patterns": appCfg.Workflow.GuardPatterns,
		"build_command":  appCfg.Runner.BuildCommand,
		"test_command":   appCfg.Runner.TestCommand,
		"model":          appCfg.Model.Default,
		"model_endpoint": appCfg.Model.Endpoint,
	}
	orchestratorJSON, _ := json.Marshal(orchestratorConfig)

	apiConfig := map[string]any{
		"listen_addr": appCfg.API.ListenAddr,
		"data_dir":    appCfg.Workflow.DataDir,
	}
	apiJSON, _ := json.Marshal(apiConfig)

	return &config.Config{
		Version: "1.0.0",
		Platform: config.PlatformConfig{
			Org:         "ticketflow",
			ID:          "ticketflow-local",
			Environment: "dev",
		},
		NATS: config.NATSConfig{
			URLs:          []string{resolveNATSURL(appCfg)},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: config.JetStreamConfig{
				Enabled: true,
			},
		},
		Services: types.ServiceConfigs{},
		Components: config.ComponentConfigs{
			"ticket-orchestrator": types.ComponentConfig{
				Name:    "ticket-orchestrator",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  orchestratorJSON,
			},
			"ticket-api": types.ComponentConfig{
				Name:    "ticket-api",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  apiJSON,
			},
		},
		Streams: config.StreamConfigs{
			"TICKET": config.StreamConfig{
				Subjects: []string{
					"ticket.trigger.>",
					"ticket.events.>",
				},
				MaxAge:   "72h",
				Storage:  "file",
				Replicas: 1,
			},
		},
	}
}

// resolveNATSURL picks the NATS URL from the environment or config.
// The platform config and the live connection both use it, so the
// config manager's view never drifts from the actual connection.
func resolveNATSURL(appCfg *appconfig.Config) string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}
	if envURL := os.Getenv("TICKETFLOW_NATS_URL"); envURL != "" {
		return envURL
	}
	if appCfg.NATS.URL != "" {
		return appCfg.NATS.URL
	}
	return "nats://localhost:4222"
}

func connectToNATS(ctx context.Context, appCfg *appconfig.Config, logger *slog.Logger) (*natsclient.Client, error) {
	natsURLs := resolveNATSURL(appCfg)

	logger.Info("Connecting to NATS", "url", natsURLs)

	client, err := natsclient.NewClient(natsURLs,
		natsclient.WithName("ticketflow"),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, natsURLs)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, natsURLs)
	}

	logger.Info("Connected to NATS", "url", natsURLs)
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

Or set NATS_URL environment variable to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func ensureStreams(ctx context.Context, cfg *config.Config, natsClient *natsclient.Client, logger *slog.Logger) error {
	logger.Debug("Creating JetStream streams")
	streamsManager := config.NewStreamsManager(natsClient, logger)

	if err := streamsManager.EnsureStreams(ctx, cfg); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	logger.Debug("JetStream streams ready")
	return nil
}

func extractPlatformMeta(cfg *config.Config) types.PlatformMeta {
	platformID := cfg.Platform.InstanceID
	if platformID == "" {
		platformID = cfg.Platform.ID
	}

	return types.PlatformMeta{
		Org:      cfg.Platform.Org,
		Platform: platformID,
	}
}

// ensureServiceManagerConfig ensures service-manager config exists with defaults
func ensureServiceManagerConfig(cfg *config.Config) {
	if cfg.Services == nil {
		cfg.Services = make(types.ServiceConfigs)
	}

	if _, exists := cfg.Services["service-manager"]; !exists {
		slog.Debug("Adding default service-manager config")
		defaultConfig := map[string]any{
			"http_port":  8080,
			"swagger_ui": false,
			"server_info": map[string]string{
				"title":       "Ticketflow API",
				"description": "ticket-driven code change pipeline",
				"version":     Version,
			},
		}
		defaultConfigJSON, _ := json.Marshal(defaultConfig)
		cfg.Services["service-manager"] = types.ServiceConfig{
			Name:    "service-manager",
			Enabled: true,
			Config:  defaultConfigJSON,
		}
	}
}

// configureAndCreateServices configures the manager and creates all services
func configureAndCreateServices(
	cfg *config.Config,
	manager *service.Manager,
	svcDeps *service.Dependencies,
) error {
	slog.Debug("Configuring Manager")
	if err := manager.ConfigureFromServices(cfg.Services, svcDeps); err != nil {
		return fmt.Errorf("configure service manager: %w", err)
	}

	slog.Debug("Creating services from config", "count", len(cfg.Services))
	for name, svcConfig := range cfg.Services {
		if name == "service-manager" {
			continue
		}

		if !svcConfig.Enabled {
			slog.Info("Service disabled in config", "name", name)
			continue
		}

		if !manager.HasConstructor(name) {
			slog.Warn("Service configured but not registered", "key", name)
			continue
		}

		if _, err := manager.CreateService(name, svcConfig.Config, svcDeps); err != nil {
			return fmt.Errorf("create service %s: %w", name, err)
		}

		slog.Info("Created service", "name", name)
	}

	return nil
}

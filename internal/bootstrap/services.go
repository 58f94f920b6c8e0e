package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joblens/listing-sync/config"
	"github.com/joblens/listing-sync/internal/adapters/provider"
	"github.com/joblens/listing-sync/internal/adapters/syncrunner"
	"github.com/joblens/listing-sync/internal/core"
	"github.com/joblens/listing-sync/internal/data"
	"github.com/joblens/listing-sync/internal/observability/statsd"
)

// shutdownWaitTimeout bounds how long graceful shutdown waits for each
// component before giving up on it.
const shutdownWaitTimeout = 15 * time.Second

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Sync *core.SyncService
	// Runner is the schedule-driven sync trigger; nil when the
	// sync-scheduler mode is not enabled in this process.
	Runner        *syncrunner.Runner
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "listing_sync",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// buildProviderClient constructs the external provider client. The client is
// optional when sync is disabled, since nothing will call it.
func buildProviderClient(cfg *config.AppConfig, logger *slog.Logger) (*provider.Client, error) {
	if cfg.Provider.BaseURL == "" {
		if cfg.Sync.Enabled {
			return nil, errors.New("PROVIDER_BASE_URL is required when sync is enabled")
		}
		return nil, nil
	}

	client, err := provider.NewClient(provider.ClientOptions{
		Config: provider.Config{
			BaseURL:   cfg.Provider.BaseURL,
			APIKey:    cfg.Provider.APIKey,
			Timeout:   cfg.Provider.Timeout,
			UserAgent: cfg.Provider.UserAgent,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build provider client: %w", err)
	}
	return client, nil
}

// BuildServices wires repositories, the provider client, and the sync service
// from the loaded configuration.
func BuildServices(deps ServiceDeps) (ServiceContainer, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Config == nil {
		return ServiceContainer{}, errors.New("config is required")
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("database connection is required")
	}

	observability := buildObservability(logger, deps.Config.Observability)

	regions, err := deps.Config.Sync.ParseRegions()
	if err != nil {
		return ServiceContainer{}, err
	}
	if deps.Config.Sync.Enabled && len(regions) == 0 {
		logger.Warn("sync is enabled but SYNC_REGIONS is empty; runs will record zero regions")
	}

	providerClient, err := buildProviderClient(deps.Config, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	listingRepo := data.NewListingRepo(deps.DB)
	runRepo := data.NewSyncRunRepo(deps.DB)
	lockRepo := data.NewRunLockRepo(deps.RedisClient, deps.Config.Sync.LockTTL, logger)

	var providerPort core.ProviderClient
	if providerClient != nil {
		providerPort = providerClient
	}

	syncService := core.NewSyncService(core.SyncServiceOptions{
		Provider: providerPort,
		Listings: listingRepo,
		Runs:     runRepo,
		Lock:     lockRepo,
		Config: core.SyncConfig{
			Regions:              regions,
			MaxConcurrentRegions: deps.Config.Sync.MaxConcurrentRegions,
			RetryAttempts:        deps.Config.Sync.RetryAttempts,
			RetryDelay:           deps.Config.Sync.RetryDelay,
			UpsertBatchSize:      deps.Config.Sync.UpsertBatchSize,
			ProviderTimeout:      deps.Config.Provider.Timeout,
			StaleAfter:           deps.Config.Sync.StaleAfter,
		},
		Enabled: deps.Config.Sync.Enabled,
		Logger:  logger,
		Sink:    observability.MetricsSink,
	})

	container := ServiceContainer{
		Sync:          syncService,
		Observability: observability,
	}

	if deps.Config.IsSyncSchedulerEnabled() {
		runner, runnerErr := syncrunner.NewRunner(syncrunner.RunnerOptions{
			Sync:     syncService,
			Hour:     deps.Config.Sync.ScheduleHour,
			Minute:   deps.Config.Sync.ScheduleMinute,
			Timezone: deps.Config.Sync.Timezone,
			Logger:   logger,
		})
		if runnerErr != nil {
			return ServiceContainer{}, fmt.Errorf("build sync runner: %w", runnerErr)
		}
		container.Runner = runner
	}

	return container, nil
}

// ServiceOrchestrationConfig groups everything needed to run the enabled
// services until shutdown.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Services    ServiceContainer
	Logger      *slog.Logger
}

// serviceStartupDeps groups dependencies for starting services.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started",
		"service", descriptor.name, "mode", descriptor.mode)

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newSyncSchedulerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeSyncScheduler,
		name: "sync scheduler",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Services.Runner == nil {
				return errors.New("sync scheduler enabled but no runner was built")
			}
			return deps.cfg.Services.Runner.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newSyncSchedulerBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, len(enabledServices)+1)

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		cancel:          cancel,
		errCh:           errCh,
		httpServer:      result.HTTPServer,
		shutdownTimeout: cfg.Config.HTTP.ShutdownTimeout,
		logger:          logger,
		backgrounds:     result.Background,
	})
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel          context.CancelFunc
	errCh           <-chan error
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
	backgrounds     []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	// Gracefully stop HTTP server if running
	if cfg.httpServer != nil {
		timeout := cfg.shutdownTimeout
		if timeout <= 0 {
			timeout = shutdownWaitTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := cfg.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
		cfg.logger.Info("HTTP server stopped")
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}

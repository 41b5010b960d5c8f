// autodeploy server: hosts chat sessions, runs their deployment pipelines
// and serves the HTTP, NDJSON and WebSocket APIs.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/api"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/cleanup"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/config"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/database"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/services"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/session"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/telemetry"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/version"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/worker"
)

const (
	wsWriteTimeout      = 10 * time.Second
	httpShutdownTimeout = 5 * time.Second
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	if getEnv("LOG_LEVEL", "info") == "debug" {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting autodeploy",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	if err := run(*configDir, ":"+httpPort); err != nil {
		slog.Error("autodeploy exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(configDir, addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return err
	}

	// Run and step spans go to the log.
	tracerProvider := telemetry.NewTracerProvider(slog.Default())
	otel.SetTracerProvider(tracerProvider)
	defer func() {
		if err := tracerProvider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Error("Error shutting down tracer provider", "error", err)
		}
	}()

	// 2. Step workers
	factory := worker.NewFactory(cfg)
	defer func() {
		if err := factory.Close(); err != nil {
			slog.Error("Error closing step service connection", "error", err)
		}
	}()
	defs, err := factory.Definitions()
	if err != nil {
		return err
	}

	// 3. Event fan-out
	bus := events.NewBus(
		events.WithHistoryLimit(cfg.Orchestrator.HistoryLimit),
		events.WithSubscriberBuffer(cfg.Orchestrator.SubscriberBuffer),
	)
	defer bus.Close()
	publishers := []events.Publisher{bus}

	// 4. Optional persistence
	var (
		dbClient     *database.Client
		runService   *services.RunService
		timelineSvc  *services.TimelineService
		eventService *services.EventService
		connManager  *events.ConnectionManager
	)
	if database.Enabled() {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			return err
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			return err
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		slog.Info("Connected to PostgreSQL database")

		runService = services.NewRunService(dbClient.DB())
		timelineSvc = services.NewTimelineService(dbClient.DB())
		eventService = services.NewEventService(dbClient.DB())
		publishers = append(publishers,
			services.NewRecorder(runService, timelineSvc),
			events.NewEventPublisher(dbClient.DB()))

		// WebSocket clients follow Postgres NOTIFY so every replica sees
		// every session's events.
		connManager = events.NewConnectionManager(events.NewEventServiceAdapter(eventService), wsWriteTimeout)
		notifyListener := events.NewNotifyListener(dbConfig.DSN(), connManager)
		if err := notifyListener.Start(ctx); err != nil {
			return err
		}
		defer notifyListener.Stop(context.WithoutCancel(ctx))
		connManager.SetListener(notifyListener)
	} else {
		slog.Info("DB_HOST not set, running without persistence")
		connManager = events.NewConnectionManager(bus, wsWriteTimeout)
		relay := events.NewBusRelay(bus, connManager)
		defer relay.Stop()
		connManager.SetListener(relay)
	}

	var publisher events.Publisher = bus
	if len(publishers) > 1 {
		publisher = events.NewMultiPublisher(publishers...)
	}

	// 5. Sessions
	sessions := session.NewManager(defs, cfg.Sessions,
		session.WithPublisher(publisher),
		session.WithChannelDropper(bus),
		session.WithOrchestratorOptions(pipeline.WithStepTimeout(cfg.Orchestrator.StepTimeout)))

	cleanupService := cleanup.NewService(cfg.Retention, runService, eventService, sessions)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 6. HTTP server
	server := api.NewServer(cfg, sessions, bus)
	if dbClient != nil {
		server.SetPersistence(dbClient, runService, timelineSvc)
	}
	server.SetConnectionManager(connManager)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", addr)
		return server.Start(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			slog.Info("Shutdown signal received")
		}

		// Runs first, so their final events still reach open streams.
		runCtx, cancel := context.WithTimeout(context.Background(), cfg.Orchestrator.ShutdownTimeout)
		defer cancel()
		if err := sessions.Shutdown(runCtx); err != nil {
			slog.Warn("Active runs did not stop before the shutdown timeout", "error", err)
		}

		httpCtx, httpCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer httpCancel()
		if err := server.Shutdown(httpCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	slog.Info("autodeploy started successfully",
		"steps", len(defs),
		"persistence", dbClient != nil)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vmtel/vmeventbuf/internal/config"
	"github.com/vmtel/vmeventbuf/internal/control"
	"github.com/vmtel/vmeventbuf/internal/export"
	"github.com/vmtel/vmeventbuf/internal/observability"
	"github.com/vmtel/vmeventbuf/internal/pause"
	"github.com/vmtel/vmeventbuf/internal/pool"
	"github.com/vmtel/vmeventbuf/internal/queue"
	"github.com/vmtel/vmeventbuf/internal/server"
	"github.com/vmtel/vmeventbuf/internal/telemetry"
	"github.com/vmtel/vmeventbuf/pkg/event"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Load configuration
	// Priority: CLI flag > CONFIG_PATH env var > default path
	var cfgPath string
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	} else {
		cfgPath = "config/application.yaml"
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize observability
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	logger.Info("starting telemetry pipeline",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Track cleanup functions
	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, fn)
		logger.Debug("registered cleanup", "component", name)
	}
	runCleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			if err := cleanupFuncs[i](); err != nil {
				logger.Error("cleanup failed", "error", err)
			}
		}
	}
	defer runCleanup()

	// Initialize the buffer pool
	geometry := pool.GeometryFor(cfg.Pool.BudgetBytes, os.Getpagesize())
	region, err := pool.NewRegion(geometry.RegionSize())
	if err != nil {
		return fmt.Errorf("failed to reserve buffer region: %w", err)
	}
	bufferPool, err := pool.New(region, geometry, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create buffer pool: %w", err)
	}
	addCleanup("buffer-pool", bufferPool.Close)

	// Posting layer and deferred event queue
	pauser := &pause.Controller{}
	memory := telemetry.NewMemory(bufferPool, pauser, logger, metrics)
	deferred := queue.New(logger, metrics)
	addCleanup("event-queue", func() error {
		deferred.Close()
		return nil
	})

	// Delivery handler: Kafka exporter when enabled, otherwise log-only
	var handler event.Handler
	if cfg.Export.Enabled {
		exporter, err := export.New(cfg.Export, logger, metrics)
		if err != nil {
			return fmt.Errorf("failed to create Kafka exporter: %w", err)
		}
		addCleanup("kafka-exporter", exporter.Close)
		handler = exporter
	} else {
		handler = &logHandler{logger: logger}
	}

	pipeline := telemetry.NewPipeline(memory, deferred, pauser, handler, telemetry.Config{
		ClassLoad:  cfg.Notifications.ClassLoad,
		FirstCall:  cfg.Notifications.FirstCall,
		ToJavaCall: cfg.Notifications.ToJavaCall,
	}, logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Agent control channel
	if cfg.Control.Enabled {
		channel, err := control.Listen(control.Config{
			ReadTimeout:  cfg.Control.ReadTimeout(),
			WriteTimeout: cfg.Control.WriteTimeout(),
		}, pipeline, logger, metrics)
		if err != nil {
			return fmt.Errorf("failed to open control channel: %w", err)
		}
		pipeline.SetStopControl(channel.Stop)
		addCleanup("control-channel", func() error {
			channel.Stop()
			return nil
		})

		// The agent reads its connection endpoint from stdout.
		fmt.Println(channel.AgentArgs())

		go func() {
			if err := channel.Serve(); err != nil {
				logger.Error("control channel failed", "error", err)
			}
		}()
	}

	// Start HTTP server
	healthChecker := server.NewPipelineChecker(pipeline)
	httpServer := server.NewServer(cfg.Observability, healthChecker, registry, logger)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	addCleanup("http-server", func() error {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	// Deferred queue drain loop
	go pipeline.ServeQueue(ctx)

	// Periodic flusher
	go func() {
		ticker := time.NewTicker(cfg.Pool.FlushInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pipeline.Flush()
			}
		}
	}()

	// Deferred start: delivery begins only after the launch window passes.
	startTimer := time.AfterFunc(cfg.Notifications.DelayInitiation(), func() {
		pipeline.SetReady()
		logger.Info("deferred start complete, delivery enabled")
	})
	defer startTimer.Stop()

	logger.Info("application started successfully")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("received termination signal")

	// Graceful shutdown: push out what the buffers still hold.
	logger.Info("initiating graceful shutdown")
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Shutdown.GracePeriodSeconds)*time.Second)
	defer drainCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pipeline.DrainQueues(true, false); err != nil {
			logger.Error("final drain failed", "error", err)
		}
	}()
	select {
	case <-done:
	case <-drainCtx.Done():
		logger.Warn("final drain timed out")
	}

	logger.Info("application stopped successfully")
	return nil
}

// logHandler delivers events to the structured log when no export sink is
// configured.
type logHandler struct {
	logger *slog.Logger
}

func (h *logHandler) OnClassLoad(ev event.ClassLoadEvent) error {
	h.logger.Debug("class load",
		"loader", ev.LoaderID,
		"class", ev.ClassID,
		"name", ev.Name,
		"source", ev.Source,
	)
	return nil
}

func (h *logHandler) OnFirstCall(ev event.FirstCallEvent) error {
	h.logger.Debug("first call", "holder", ev.HolderID, "method", ev.Method)
	return nil
}

func (h *logHandler) OnToJavaCall(ev event.ToJavaCallEvent) error {
	h.logger.Debug("to-java call", "name", ev.Name)
	return nil
}

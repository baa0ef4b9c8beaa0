package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/nextgen-voice/internal/config"
	"github.com/skypro1111/nextgen-voice/internal/logging"
	"github.com/skypro1111/nextgen-voice/internal/metrics"
	"github.com/skypro1111/nextgen-voice/internal/relay"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "nextgen-voice-relay"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load .env if present
	envErr := godotenv.Load()

	// Load configuration
	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := logging.New(cfg.Logging)

	if envErr != nil {
		logger.Debug("No .env file found, using process environment")
	}

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary
	logger.Info("Configuration loaded",
		slog.String("address", cfg.Relay.Address),
		slog.Int("port", cfg.Relay.Port),
		slog.String("upload_dir", cfg.Relay.UploadDir),
		slog.Int("max_upload_mb", cfg.Relay.MaxUploadMB),
		slog.Int("workers", cfg.Relay.Workers),
		slog.Int("queue_size", cfg.Relay.QueueSize),
		slog.String("engine_command", cfg.Engine.Command),
		slog.String("engine_script", cfg.Engine.Script),
		slog.Duration("engine_timeout", cfg.Engine.GetTimeoutDuration()),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized", slog.Bool("endpoint_enabled", cfg.Metrics.Enabled))

	// Initialize engine and worker pool
	engine := relay.NewSubprocessEngine(cfg.Engine, logger)
	logger.Info("Transcription engine initialized", slog.String("interpreter", engine.Interpreter()))

	pool := relay.NewPool(engine, cfg.Relay.Workers, cfg.Relay.QueueSize, logger, appMetrics)

	// Initialize and start HTTP server
	server := relay.NewServer(cfg.Relay, cfg.Metrics, pool, logger, appMetrics, registry)
	if err := server.Start(); err != nil {
		logger.Error("Failed to start relay server", slog.String("error", err.Error()))
		pool.Stop()
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Backend server running, ready to receive transcription requests",
		slog.String("url", fmt.Sprintf("http://%s", server.Addr())),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Engine.GetTimeoutDuration()+10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Drain the worker pool
	pool.Stop()

	stats := pool.GetStats()
	logger.Info("Final relay statistics",
		slog.Uint64("submitted", stats.Submitted),
		slog.Uint64("completed", stats.Completed),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("rejected", stats.Rejected),
	)

	logger.Info("Service stopped")
}

// resolveConfigPath falls back to built-in defaults when the default file is absent
func resolveConfigPath(path string) string {
	if path != defaultConfigPath {
		return path
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

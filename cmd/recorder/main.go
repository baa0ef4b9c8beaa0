package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/nextgen-voice/internal/audio"
	"github.com/skypro1111/nextgen-voice/internal/capture"
	"github.com/skypro1111/nextgen-voice/internal/config"
	"github.com/skypro1111/nextgen-voice/internal/logging"
	"github.com/skypro1111/nextgen-voice/internal/metrics"
	"github.com/skypro1111/nextgen-voice/internal/recorder"
	"github.com/skypro1111/nextgen-voice/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "nextgen-voice-recorder"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	duration := flag.Duration("duration", 0, "Record for this long, transcribe and exit (0 = interactive)")
	captureKind := flag.String("capture", "", "Override the capture engine: ffmpeg or browser")
	flag.Parse()

	// Load .env if present
	envErr := godotenv.Load()

	// Load configuration
	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *captureKind != "" {
		cfg.Recorder.Capture = *captureKind
		if err := cfg.Recorder.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -capture: %v\n", err)
			os.Exit(1)
		}
	}

	// Logs go to stderr by default so they do not interleave with the console
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger := logging.New(cfg.Logging)
	if envErr != nil {
		logger.Debug("No .env file found, using process environment")
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("capture", cfg.Recorder.Capture),
		slog.String("relay_url", cfg.Client.BaseURL),
		slog.Int("target_rate", cfg.Recorder.TargetRate),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	appMetrics := metrics.NewMetrics(registry)

	client, err := transcription.NewClient(transcription.Config{
		BaseURL:       cfg.Client.BaseURL,
		Timeout:       cfg.Client.GetTimeoutDuration(),
		MaxConcurrent: cfg.Client.MaxConcurrent,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	setup, err := buildCapture(cfg, logger, registry)
	if err != nil {
		logger.Error("Failed to initialize capture", slog.String("error", err.Error()))
		os.Exit(1)
	}

	manager, err := recorder.NewManager(logger, recorder.ManagerConfig{
		Session: recorder.SessionConfig{
			Capture:       setup.shared,
			Playback:      capture.NewFFplayPlayback(cfg.Recorder.PlaybackCommand, logger),
			Decoder:       audio.NewMultiDecoder(cfg.Recorder.FFmpegCommand),
			NewVisualizer: capture.NewPeakMeterFactory(cfg.Recorder.Capture == "ffmpeg", 2*cfg.Recorder.SampleRate, logger),
			TargetRate:    cfg.Recorder.TargetRate,
		},
		NewCapture:  setup.newCapture,
		IdleTimeout: cfg.Recorder.GetSessionTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	con, err := newConsole(manager, client, os.Stdout, logger)
	if err != nil {
		logger.Error("Failed to create session", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if setup.browser != nil {
		con.peer = setup.browser
	}

	exitCode := 0
	if *duration > 0 {
		if err := con.oneShot(ctx, *duration); err != nil {
			exitCode = 1
		}
	} else {
		if err := con.run(ctx, os.Stdin); err != nil {
			logger.Error("Console error", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	logger.Info("Shutting down...")

	manager.Stop()
	client.Close()

	if setup.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := setup.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error stopping capture page server", slog.String("error", err.Error()))
		}
		cancel()
	}

	stats := client.GetStats()
	logger.Info("Service stopped",
		slog.Uint64("uploads", stats.TotalRequests),
		slog.Uint64("failed_uploads", stats.FailedRequests),
	)
	stop()
	os.Exit(exitCode)
}

// captureSetup is how sessions obtain a capture engine
type captureSetup struct {
	newCapture func() (recorder.CaptureEngine, error) // one engine per session
	shared     recorder.CaptureEngine                 // single device leased to one session
	browser    *capture.BrowserCapture
	server     *http.Server
}

// buildCapture creates the configured capture engine. Browser capture also
// starts the HTTP server that serves the capture page.
func buildCapture(cfg *config.Config, logger *slog.Logger, registry *prometheus.Registry) (*captureSetup, error) {
	switch cfg.Recorder.Capture {
	case "ffmpeg":
		ffmpegCfg := capture.FFmpegConfig{
			Command:     cfg.Recorder.FFmpegCommand,
			InputFormat: cfg.Recorder.InputFormat,
			InputDevice: cfg.Recorder.InputDevice,
			SampleRate:  cfg.Recorder.SampleRate,
		}
		return &captureSetup{
			newCapture: func() (recorder.CaptureEngine, error) {
				return capture.NewFFmpegCapture(ffmpegCfg, logger), nil
			},
		}, nil

	case "browser":
		// The page is served by the same server, so same-origin checks apply
		engine := capture.NewBrowserCapture(cfg.Recorder.GetAckTimeoutDuration(), "", logger)

		mux := http.NewServeMux()
		mux.Handle("/", capture.PageHandler("/ws", logger))
		mux.Handle("/ws", engine)
		if cfg.Metrics.Enabled {
			mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		}

		server := &http.Server{
			Addr:              cfg.Recorder.BrowserAddress,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Capture page server error", slog.String("error", err.Error()))
			}
		}()

		fmt.Fprintf(os.Stdout, "Open http://%s in a browser and allow microphone access\n", cfg.Recorder.BrowserAddress)
		return &captureSetup{shared: engine, browser: engine, server: server}, nil

	default:
		return nil, fmt.Errorf("unknown capture engine %q", cfg.Recorder.Capture)
	}
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

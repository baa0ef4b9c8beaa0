package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/nextgen-voice/internal/config"
	"github.com/skypro1111/nextgen-voice/internal/metrics"
	"github.com/skypro1111/nextgen-voice/internal/transcription"
)

const (
	// UploadField is the multipart field carrying the audio file
	UploadField = "audio"

	healthMessage = "Backend server is running"
)

// Server exposes the transcription relay over HTTP
type Server struct {
	server   *http.Server
	listener net.Listener
	handler  http.Handler
	logger   *slog.Logger
	config   config.RelayConfig
	pool     *Pool
	metrics  *metrics.Metrics

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewServer creates the relay HTTP server. gatherer backs the metrics endpoint
// when metricsCfg enables it; m may be nil.
func NewServer(cfg config.RelayConfig, metricsCfg config.MetricsConfig, pool *Pool,
	logger *slog.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {

	s := &Server{
		logger:    logger,
		config:    cfg,
		pool:      pool,
		metrics:   m,
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	s.setupRoutes(mux, metricsCfg, gatherer)
	s.handler = s.withCORS(mux)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.GetReadTimeoutDuration(),
		WriteTimeout: cfg.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures HTTP API routes
func (s *Server) setupRoutes(mux *http.ServeMux, metricsCfg config.MetricsConfig, gatherer prometheus.Gatherer) {
	mux.HandleFunc("/transcribe", s.withMetrics("/transcribe", s.handleTranscribe))
	mux.HandleFunc("/health", s.withMetrics("/health", s.handleHealth))
	mux.HandleFunc("/stats", s.withMetrics("/stats", s.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if metricsCfg.Enabled && gatherer != nil {
		mux.Handle(metricsCfg.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", s.withMetrics("/", s.handleRoot))
}

// Handler returns the full handler chain, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		s.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			s.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// withCORS allows the configured browser origin to call the relay
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (s.config.AllowedOrigin == "*" || origin == s.config.AllowedOrigin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	if err := os.MkdirAll(s.config.UploadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir %s: %w", s.config.UploadDir, err)
	}

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Starting relay HTTP server",
		slog.String("address", listener.Addr().String()),
		slog.String("upload_dir", s.config.UploadDir),
		slog.String("allowed_origin", s.config.AllowedOrigin),
	)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once Start has succeeded
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping relay HTTP server...")

	return s.server.Shutdown(ctx)
}

// handleTranscribe implements POST /transcribe
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes())

	audioPath, size, err := s.saveUpload(r)
	if audioPath != "" {
		defer s.removeUpload(audioPath)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "File too large",
				fmt.Sprintf("maximum upload size is %d MB", s.config.MaxUploadMB))
		case errors.Is(err, errNoAudioFile):
			writeError(w, http.StatusBadRequest, "No audio file provided", "")
		default:
			s.logger.Error("Failed to store upload", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		}
		return
	}

	s.metrics.RecordUploadSize(size)
	s.logger.Info("Received audio file",
		slog.String("audio_path", audioPath),
		slog.Int64("size", size),
	)

	result, err := s.pool.Transcribe(r.Context(), audioPath)
	if err != nil {
		var engineErr *EngineError
		switch {
		case errors.Is(err, ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "Transcription queue full", "")
		case errors.Is(err, ErrPoolStopped):
			writeError(w, http.StatusServiceUnavailable, "Transcription service unavailable", "")
		case errors.As(err, &engineErr):
			writeError(w, http.StatusInternalServerError, engineErr.Message, engineErr.Details)
		case errors.Is(err, context.Canceled):
			s.logger.Info("Client went away before transcription finished", slog.String("audio_path", audioPath))
			writeError(w, http.StatusServiceUnavailable, "Transcription canceled", "")
		default:
			writeError(w, http.StatusInternalServerError, MsgTranscriptionFailed, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, transcription.Response{
		Success:       true,
		Transcription: result.Text,
		Segments:      result.Segments,
		Language:      result.Language,
	})
}

var errNoAudioFile = errors.New("no audio file in request")

// saveUpload streams the audio part to a uniquely named file in the upload dir.
// The returned path is set whenever a file was created, even on error.
func (s *Server) saveUpload(r *http.Request) (string, int64, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return "", 0, errNoAudioFile
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return "", 0, errNoAudioFile
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", 0, err
			}
			return "", 0, errNoAudioFile
		}

		if part.FormName() != UploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		path, size, err := s.writePart(part)
		part.Close()
		return path, size, err
	}
}

func (s *Server) writePart(part *multipart.Part) (string, int64, error) {
	path := filepath.Join(s.config.UploadDir, "audio-"+uuid.NewString()+".webm")

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create upload file: %w", err)
	}

	size, copyErr := io.Copy(file, part)
	closeErr := file.Close()

	if copyErr != nil {
		return path, size, copyErr
	}
	if closeErr != nil {
		return path, size, fmt.Errorf("failed to close upload file: %w", closeErr)
	}
	if size == 0 {
		return path, 0, errNoAudioFile
	}
	return path, size, nil
}

func (s *Server) removeUpload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error("Error cleaning up audio file",
			slog.String("audio_path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("Cleaned up audio file", slog.String("audio_path", path))
}

// handleHealth implements GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	writeJSON(w, http.StatusOK, transcription.HealthResponse{
		Status:  "ok",
		Message: healthMessage,
	})
}

// handleStats implements GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC(),
		"pool":      s.pool.GetStats(),
		"limits": map[string]interface{}{
			"max_upload_mb": s.config.MaxUploadMB,
		},
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Not found", "")
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	apiDoc := map[string]interface{}{
		"service": "NextGen Voice Transcription Relay",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":            "API documentation",
			"GET /health":      "Service health check",
			"POST /transcribe": "Transcribe the multipart field 'audio'",
			"GET /stats":       "Worker pool statistics",
			"GET /metrics":     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, transcription.ErrorResponse{Error: message, Details: details})
}

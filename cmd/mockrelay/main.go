package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/skypro1111/nextgen-voice/internal/audio"
	"github.com/skypro1111/nextgen-voice/internal/config"
	"github.com/skypro1111/nextgen-voice/internal/logging"
	"github.com/skypro1111/nextgen-voice/internal/transcription"
	"github.com/skypro1111/nextgen-voice/internal/vad"
)

const defaultText = "This is a test transcription of the recorded audio"

type mockRelay struct {
	logger *slog.Logger
	text   string
	delay  time.Duration
	fail   bool
}

func (m *mockRelay) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", m.transcribeHandler)
	mux.HandleFunc("/health", m.healthHandler)
	return mux
}

func (m *mockRelay) transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, transcription.ErrorResponse{Error: "Method not allowed"})
		return
	}

	// Parse multipart form
	if err := r.ParseMultipartForm(50 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, transcription.ErrorResponse{Error: "No audio file provided"})
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transcription.ErrorResponse{Error: "No audio file provided"})
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, transcription.ErrorResponse{Error: "Internal server error", Details: err.Error()})
		return
	}

	attrs := []any{
		slog.String("filename", header.Filename),
		slog.Int("size", len(audioData)),
		slog.String("content_type", header.Header.Get("Content-Type")),
	}
	duration := 0.0
	if info, err := audio.GetWAVInfo(audioData); err == nil {
		duration = info.Duration
		attrs = append(attrs,
			slog.Int("sample_rate", int(info.SampleRate)),
			slog.Int("channels", int(info.Channels)),
			slog.Float64("duration_seconds", info.Duration),
		)
	}
	m.logger.Info("Transcription request received", attrs...)

	// Simulate processing time
	time.Sleep(m.delay)

	if m.fail {
		writeJSON(w, http.StatusInternalServerError, transcription.ErrorResponse{
			Error:   "Transcription failed",
			Details: "mock relay configured to fail",
		})
		return
	}

	text, segments := m.segmentText(audioData, duration)
	response := transcription.Response{
		Success:       true,
		Transcription: text,
		Segments:      segments,
		Language:      "en",
	}

	writeJSON(w, http.StatusOK, response)
	m.logger.Info("Transcription response sent",
		slog.String("text", text),
		slog.Int("segments", len(segments)),
	)
}

// segmentText places the canned text on the voiced spans of the upload.
// Non-WAV uploads get a single segment covering the whole file.
func (m *mockRelay) segmentText(data []byte, duration float64) (string, []transcription.Segment) {
	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		end := duration
		if end == 0 {
			end = 1
		}
		return m.text, []transcription.Segment{{ID: 0, Start: 0, End: end, Text: " " + m.text}}
	}

	processor, err := vad.NewDefaultProcessor(rate)
	if err != nil {
		m.logger.Warn("VAD unavailable", slog.String("error", err.Error()))
		return "", []transcription.Segment{}
	}

	spans, err := processor.Segments(samples)
	if err != nil {
		m.logger.Warn("VAD failed", slog.String("error", err.Error()))
		return "", []transcription.Segment{}
	}

	stats := processor.GetStats()
	m.logger.Debug("Voice activity",
		slog.Int("spans", len(spans)),
		slog.Float64("voice_percentage", stats.VoicePercentage),
	)

	words := strings.Fields(m.text)
	if len(spans) == 0 || len(words) == 0 {
		return "", []transcription.Segment{}
	}
	if len(spans) > len(words) {
		spans = spans[:len(words)]
	}

	segments := make([]transcription.Segment, 0, len(spans))
	perSpan := len(words) / len(spans)
	for i, span := range spans {
		from := i * perSpan
		to := from + perSpan
		if i == len(spans)-1 {
			to = len(words)
		}
		segments = append(segments, transcription.Segment{
			ID:    i,
			Start: span.Start.Seconds(),
			End:   span.End.Seconds(),
			Text:  " " + strings.Join(words[from:to], " "),
		})
	}

	return m.text, segments
}

func (m *mockRelay) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, transcription.HealthResponse{Status: "ok", Message: "Backend server is running"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func main() {
	addr := flag.String("addr", ":3001", "Listen address")
	text := flag.String("text", defaultText, "Canned transcription text")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	fail := flag.Bool("fail", false, "Answer every transcription with HTTP 500")
	flag.Parse()

	logger := logging.New(config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"})

	m := &mockRelay{logger: logger, text: strings.TrimSpace(*text), delay: *delay, fail: *fail}

	logger.Info("Mock relay starting",
		slog.String("address", *addr),
		slog.String("endpoint", fmt.Sprintf("http://localhost%s/transcribe", *addr)),
	)

	if err := http.ListenAndServe(*addr, m.routes()); err != nil {
		logger.Error("Server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

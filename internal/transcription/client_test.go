package transcription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/nextgen-voice/internal/audio"
	"github.com/skypro1111/nextgen-voice/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testAsset() *audio.WAVAsset {
	return audio.NewWAVAsset(&audio.PCMBuffer{
		SampleRate: 16000,
		Channels:   [][]float32{{0, 0.25, -0.25, 0.5}},
	})
}

func newTestClient(t *testing.T, baseURL string, m *metrics.Metrics) *Client {
	t.Helper()
	client, err := NewClient(Config{BaseURL: baseURL, Timeout: 5 * time.Second, MaxConcurrent: 2}, testLogger(), m)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid http", "http://localhost:3001", false},
		{"trailing slash", "http://localhost:3001/", false},
		{"https", "https://relay.example.com", false},
		{"empty", "", true},
		{"no scheme", "localhost:3001", true},
		{"ftp scheme", "ftp://localhost", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(Config{BaseURL: tt.baseURL}, testLogger(), nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient(%q) error = %v, wantErr %v", tt.baseURL, err, tt.wantErr)
			}
		})
	}
}

func TestUploadSuccess(t *testing.T) {
	asset := testAsset()

	var gotField, gotFilename string
	var gotSize int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transcribe" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}

		reader, err := r.MultipartReader()
		if err != nil {
			t.Errorf("Expected multipart body: %v", err)
			return
		}
		part, err := reader.NextPart()
		if err != nil {
			t.Errorf("Expected one part: %v", err)
			return
		}
		gotField = part.FormName()
		gotFilename = part.FileName()
		data, _ := io.ReadAll(part)
		gotSize = len(data)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"transcription":"hello world","segments":[{"id":0,"start":0,"end":1.5,"text":"hello world","tokens":[1,2]}],"language":"en"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	result, err := client.Upload(context.Background(), asset)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if gotField != "audio" {
		t.Errorf("Expected form field 'audio', got '%s'", gotField)
	}
	if gotFilename != "recording.webm" {
		t.Errorf("Expected filename 'recording.webm', got '%s'", gotFilename)
	}
	if gotSize != asset.Len() {
		t.Errorf("Expected %d uploaded bytes, got %d", asset.Len(), gotSize)
	}

	if result.Text != "hello world" {
		t.Errorf("Expected text 'hello world', got '%s'", result.Text)
	}
	if len(result.Segments) != 1 || result.Segments[0].End != 1.5 {
		t.Errorf("Unexpected segments: %+v", result.Segments)
	}
	if result.Language != "en" {
		t.Errorf("Expected language 'en', got '%s'", result.Language)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 || stats.FailedRequests != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestUploadEmptyTranscriptionIsValid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":true,"transcription":"","segments":[]}`)
	}))
	defer server.Close()

	result, err := newTestClient(t, server.URL, nil).Upload(context.Background(), testAsset())
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if result.Text != "" || len(result.Segments) != 0 {
		t.Errorf("Expected empty result, got %+v", result)
	}
}

func TestUploadServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"Transcription failed","details":"model not loaded"}`)
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	client := newTestClient(t, server.URL, m)

	_, err := client.Upload(context.Background(), testAsset())

	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("Expected *UploadError, got %T: %v", err, err)
	}
	if uploadErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", uploadErr.StatusCode)
	}
	if uploadErr.ServerMessage != "Transcription failed" {
		t.Errorf("Expected server message 'Transcription failed', got '%s'", uploadErr.ServerMessage)
	}
	if uploadErr.Details != "model not loaded" {
		t.Errorf("Expected details, got '%s'", uploadErr.Details)
	}

	// No retry
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected exactly one request, got %d", n)
	}

	if got := testutil.ToFloat64(m.UploadFailures.WithLabelValues("upload")); got != 1 {
		t.Errorf("Expected one upload failure metric, got %v", got)
	}
	if got := testutil.ToFloat64(m.UploadSuccesses); got != 0 {
		t.Errorf("Expected no successes, got %v", got)
	}
}

func TestUploadNonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, nil).Upload(context.Background(), testAsset())

	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("Expected *UploadError, got %T: %v", err, err)
	}
	if uploadErr.StatusCode != http.StatusBadGateway || uploadErr.ServerMessage != "bad gateway" {
		t.Errorf("Unexpected upload error: %+v", uploadErr)
	}
}

func TestUploadMalformedResponse(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"not json", `<html>oops</html>`, "not valid JSON"},
		{"missing transcription", `{"success":true,"segments":[]}`, "missing transcription"},
		{"missing segments", `{"success":true,"transcription":"hi"}`, "missing segments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL, nil).Upload(context.Background(), testAsset())

			var malformed *MalformedResponseError
			if !errors.As(err, &malformed) {
				t.Fatalf("Expected *MalformedResponseError, got %T: %v", err, err)
			}
			if !strings.Contains(malformed.Reason, tt.reason) {
				t.Errorf("Expected reason containing '%s', got '%s'", tt.reason, malformed.Reason)
			}
		})
	}
}

func TestUploadUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, url, nil)

	_, err := client.Upload(context.Background(), testAsset())

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Expected *NetworkError, got %T: %v", err, err)
	}
	if !strings.HasSuffix(netErr.Endpoint, "/transcribe") {
		t.Errorf("Expected endpoint to end in /transcribe, got %s", netErr.Endpoint)
	}

	if client.CheckHealth(context.Background()) {
		t.Error("Expected health check to fail for unreachable relay")
	}

	if stats := client.GetStats(); stats.FailedRequests != 1 {
		t.Errorf("Expected one failed request, got %+v", stats)
	}
}

func TestUploadCanceled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(t, server.URL, nil).Upload(ctx, testAsset())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if errorKind(err) != "timeout" {
		t.Errorf("Expected timeout kind, got '%s'", errorKind(err))
	}
}

func TestUploadNilAsset(t *testing.T) {
	client := newTestClient(t, "http://localhost:1", nil)
	if _, err := client.Upload(context.Background(), nil); err == nil {
		t.Error("Expected error for nil asset")
	}
}

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"ok", http.StatusOK, `{"status":"ok","message":"Backend server is running"}`, true},
		{"degraded", http.StatusOK, `{"status":"degraded"}`, false},
		{"not json", http.StatusOK, `ok`, false},
		{"server error", http.StatusInternalServerError, `{"status":"ok"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("Unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			if got := newTestClient(t, server.URL, nil).CheckHealth(context.Background()); got != tt.want {
				t.Errorf("CheckHealth() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClose(t *testing.T) {
	client := newTestClient(t, "http://localhost:1", nil)
	if err := client.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
	if stats := client.GetStats(); stats.ActiveRequests != 2 {
		t.Errorf("Expected all slots held after close, got %d", stats.ActiveRequests)
	}
}

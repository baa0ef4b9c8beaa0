package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/nextgen-voice/internal/audio"
	"github.com/skypro1111/nextgen-voice/internal/metrics"
)

const (
	// UploadField and UploadFilename are fixed by the relay contract
	UploadField    = "audio"
	UploadFilename = "recording.webm"

	maxErrorBody = 512
)

// Client uploads audio to the transcription relay
type Client struct {
	config     Config
	baseURL    *url.URL
	httpClient *http.Client
	semaphore  chan struct{} // Concurrency limit
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	MaxConcurrent int
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new relay client; m may be nil
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", config.BaseURL)
	}

	if config.Timeout <= 0 {
		config.Timeout = 300 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		baseURL:    base,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
		metrics:    m,
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// Upload sends a WAV asset to the relay and parses the transcription.
//
// Errors are *NetworkError when the relay is unreachable, *UploadError for a
// non-success status and *MalformedResponseError when the body breaks the
// contract. There is no retry.
func (c *Client) Upload(ctx context.Context, asset *audio.WAVAsset) (*Result, error) {
	if asset == nil {
		return nil, errors.New("asset cannot be nil")
	}

	// Acquire semaphore
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	result, err := c.doUpload(ctx, asset)
	elapsed := time.Since(startTime)
	c.recordOutcome(err, elapsed)

	if err != nil {
		c.incrementFailedRequests()
		c.logger.Warn("Transcription upload failed",
			slog.String("endpoint", c.endpoint("/transcribe")),
			slog.Int("size", asset.Len()),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(elapsed)

	c.logger.Info("Transcription received",
		slog.Int("size", asset.Len()),
		slog.Duration("audio_duration", asset.Duration()),
		slog.Duration("elapsed", elapsed),
		slog.Int("segments", len(result.Segments)),
		slog.String("language", result.Language),
	)
	return result, nil
}

// doUpload performs a single multipart request to the relay
func (c *Client) doUpload(ctx context.Context, asset *audio.WAVAsset) (*Result, error) {
	body, contentType, err := createMultipartBody(asset)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	endpoint := c.endpoint("/transcribe")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "nextgen-voice-recorder/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseUploadError(resp.StatusCode, respBody)
	}

	return parseResult(respBody)
}

// createMultipartBody builds the single-file form the relay expects
func createMultipartBody(asset *audio.WAVAsset) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile(UploadField, UploadFilename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := io.Copy(fileWriter, asset.Reader()); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func parseUploadError(status int, body []byte) *UploadError {
	uploadErr := &UploadError{StatusCode: status}

	var envelope ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		uploadErr.ServerMessage = envelope.Error
		uploadErr.Details = envelope.Details
		return uploadErr
	}

	// Not the relay's envelope; keep whatever text came back
	text := strings.TrimSpace(truncate(string(body), maxErrorBody))
	if text == "" {
		text = http.StatusText(status)
	}
	uploadErr.ServerMessage = text
	return uploadErr
}

// resultWire detects absent fields, which a plain struct would zero-fill
type resultWire struct {
	Transcription *string    `json:"transcription"`
	Segments      *[]Segment `json:"segments"`
	Language      string     `json:"language"`
}

func parseResult(body []byte) (*Result, error) {
	var wire resultWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &MalformedResponseError{Reason: "body is not valid JSON", Body: truncate(string(body), maxErrorBody), Err: err}
	}
	if wire.Transcription == nil {
		return nil, &MalformedResponseError{Reason: "missing transcription field", Body: truncate(string(body), maxErrorBody)}
	}
	if wire.Segments == nil {
		return nil, &MalformedResponseError{Reason: "missing segments field", Body: truncate(string(body), maxErrorBody)}
	}

	return &Result{
		Text:     *wire.Transcription,
		Segments: *wire.Segments,
		Language: wire.Language,
	}, nil
}

// CheckHealth probes the relay's liveness endpoint.
// Any failure is reported as false, never as an error.
func (c *Client) CheckHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/health"), nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Relay health check failed", slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var health HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&health); err != nil {
		return false
	}
	return health.Status == "ok"
}

func (c *Client) recordOutcome(err error, elapsed time.Duration) {
	c.metrics.RecordClientUpload(errorKind(err), elapsed.Seconds())
}

// errorKind labels an upload outcome for metrics; empty means success
func errorKind(err error) string {
	var (
		netErr       *NetworkError
		uploadErr    *UploadError
		malformedErr *MalformedResponseError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &uploadErr):
		return "upload"
	case errors.As(err, &malformedErr):
		return "malformed"
	default:
		return "other"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight uploads to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

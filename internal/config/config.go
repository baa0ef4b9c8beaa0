package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	Engine   EngineConfig   `yaml:"engine"`
	Client   ClientConfig   `yaml:"client"`
	Recorder RecorderConfig `yaml:"recorder"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// RelayConfig contains the relay HTTP server configuration
type RelayConfig struct {
	Address       string `yaml:"address"`
	Port          int    `yaml:"port"`
	UploadDir     string `yaml:"upload_dir"`
	MaxUploadMB   int    `yaml:"max_upload_mb"`
	AllowedOrigin string `yaml:"allowed_origin"`
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
	ReadTimeout   int    `yaml:"read_timeout"`  // seconds
	WriteTimeout  int    `yaml:"write_timeout"` // seconds
}

// EngineConfig describes the external speech-to-text subprocess
type EngineConfig struct {
	Command    string `yaml:"command"`
	Script     string `yaml:"script"`
	VenvPython string `yaml:"venv_python"`
	Timeout    int    `yaml:"timeout"` // seconds
}

// ClientConfig contains transcription client configuration
type ClientConfig struct {
	BaseURL       string `yaml:"base_url"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// RecorderConfig contains capture, playback and decoding settings
type RecorderConfig struct {
	Capture         string `yaml:"capture"` // "ffmpeg" or "browser"
	FFmpegCommand   string `yaml:"ffmpeg_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	BrowserAddress  string `yaml:"browser_address"`
	AckTimeout      int    `yaml:"ack_timeout"` // seconds
	PlaybackCommand string `yaml:"playback_command"`
	TargetRate      int    `yaml:"target_rate"`
	SessionTimeout  int    `yaml:"session_timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration matching the local development setup
func Default() Config {
	return Config{
		Relay: RelayConfig{
			Address:       "0.0.0.0",
			Port:          3001,
			UploadDir:     "uploads",
			MaxUploadMB:   50,
			AllowedOrigin: "http://localhost:5174",
			Workers:       2,
			QueueSize:     16,
			ReadTimeout:   30,
			WriteTimeout:  300,
		},
		Engine: EngineConfig{
			Command:    "python3",
			Script:     "transcribe.py",
			VenvPython: "whisper-env/bin/python3",
			Timeout:    240,
		},
		Client: ClientConfig{
			BaseURL:       "http://localhost:3001",
			Timeout:       300,
			MaxConcurrent: 2,
		},
		Recorder: RecorderConfig{
			Capture:         "ffmpeg",
			FFmpegCommand:   "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      48000,
			BrowserAddress:  "127.0.0.1:3002",
			AckTimeout:      5,
			PlaybackCommand: "ffplay",
			TargetRate:      16000,
			SessionTimeout:  1800,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads and parses the configuration file on top of Default.
// An empty path skips the file and uses defaults plus environment overrides.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyEnv overrides selected fields from NEXTGEN_* environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookupTrimmed(lookup, "NEXTGEN_RELAY_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NEXTGEN_RELAY_PORT: %w", err)
		}
		c.Relay.Port = port
	}
	if v, ok := lookupTrimmed(lookup, "NEXTGEN_RELAY_URL"); ok {
		c.Client.BaseURL = v
	}
	if v, ok := lookupTrimmed(lookup, "NEXTGEN_ENGINE_COMMAND"); ok {
		c.Engine.Command = v
	}
	if v, ok := lookupTrimmed(lookup, "NEXTGEN_ENGINE_SCRIPT"); ok {
		c.Engine.Script = v
	}
	if v, ok := lookupTrimmed(lookup, "NEXTGEN_LOG_LEVEL"); ok {
		c.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookupTrimmed(lookup, "NEXTGEN_CAPTURE"); ok {
		c.Recorder.Capture = strings.ToLower(v)
	}
	return nil
}

func lookupTrimmed(lookup func(string) (string, bool), key string) (string, bool) {
	v, ok := lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}

	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	return nil
}

// Validate validates relay configuration
func (r *RelayConfig) Validate() error {
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", r.Port)
	}

	if r.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if r.UploadDir == "" {
		return fmt.Errorf("upload_dir cannot be empty")
	}

	if r.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", r.MaxUploadMB)
	}

	if r.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", r.Workers)
	}

	if r.QueueSize < 0 {
		return fmt.Errorf("queue_size cannot be negative, got %d", r.QueueSize)
	}

	if r.ReadTimeout < 1 || r.WriteTimeout < 1 {
		return fmt.Errorf("read_timeout and write_timeout must be at least 1 second")
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	if e.Command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	return nil
}

// Validate validates transcription client configuration
func (cl *ClientConfig) Validate() error {
	if cl.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if !strings.HasPrefix(cl.BaseURL, "http://") && !strings.HasPrefix(cl.BaseURL, "https://") {
		return fmt.Errorf("base_url must be an http(s) URL, got '%s'", cl.BaseURL)
	}

	if cl.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", cl.Timeout)
	}

	if cl.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", cl.MaxConcurrent)
	}

	return nil
}

// Validate validates recorder configuration
func (r *RecorderConfig) Validate() error {
	validCaptures := map[string]bool{"ffmpeg": true, "browser": true}
	if !validCaptures[r.Capture] {
		return fmt.Errorf("capture must be 'ffmpeg' or 'browser', got '%s'", r.Capture)
	}

	if r.Capture == "ffmpeg" && r.FFmpegCommand == "" {
		return fmt.Errorf("ffmpeg_command cannot be empty for ffmpeg capture")
	}

	if r.Capture == "browser" && r.BrowserAddress == "" {
		return fmt.Errorf("browser_address cannot be empty for browser capture")
	}

	if r.SampleRate < 8000 || r.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", r.SampleRate)
	}

	// Transcription assets are always 16 kHz mono
	if r.TargetRate != 16000 {
		return fmt.Errorf("target_rate must be 16000 Hz, got %d", r.TargetRate)
	}

	if r.AckTimeout < 1 {
		return fmt.Errorf("ack_timeout must be at least 1 second, got %d", r.AckTimeout)
	}

	if r.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", r.SessionTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output may be stdout, stderr or a file path
	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("path must start with '/', got '%s'", m.Path)
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes
func (r *RelayConfig) MaxUploadBytes() int64 {
	return int64(r.MaxUploadMB) << 20
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (r *RelayConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(r.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (r *RelayConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(r.WriteTimeout) * time.Second
}

// GetTimeoutDuration returns the engine timeout as a time.Duration
func (e *EngineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetTimeoutDuration returns the client timeout as a time.Duration
func (cl *ClientConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(cl.Timeout) * time.Second
}

// GetAckTimeoutDuration returns the browser ack timeout as a time.Duration
func (r *RecorderConfig) GetAckTimeoutDuration() time.Duration {
	return time.Duration(r.AckTimeout) * time.Second
}

// GetSessionTimeoutDuration returns the idle session timeout as a time.Duration
func (r *RecorderConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(r.SessionTimeout) * time.Second
}

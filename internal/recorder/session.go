package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/nextgen-voice/internal/audio"
)

// DefaultTargetRate is the sample rate WAV assets are produced at
const DefaultTargetRate = 16000

// State is the lifecycle position of a recording session
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionConfig wires a session to its collaborators
type SessionConfig struct {
	Capture       CaptureEngine
	Playback      PlaybackEngine
	Decoder       audio.Decoder
	NewVisualizer VisualizerFactory
	TargetRate    int
}

// Session is one recording attempt.
//
// All operations hold the session mutex for their full duration, including
// device access, playback and decoding, so calls execute strictly in order.
type Session struct {
	ID        string
	CreatedAt time.Time

	capture       CaptureEngine
	playback      PlaybackEngine
	decoder       audio.Decoder
	newVisualizer VisualizerFactory
	targetRate    int
	logger        *slog.Logger

	mu           sync.Mutex
	state        State
	blob         []byte
	segments     int
	lastActivity time.Time
	closed       bool

	tap *monitorTap
}

// NewSession creates an idle session
func NewSession(id string, cfg SessionConfig, logger *slog.Logger) (*Session, error) {
	if cfg.Capture == nil {
		return nil, errors.New("capture engine is required")
	}
	if cfg.Decoder == nil {
		return nil, errors.New("decoder is required")
	}
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = DefaultTargetRate
	}

	now := time.Now()
	return &Session{
		ID:            id,
		CreatedAt:     now,
		capture:       cfg.Capture,
		playback:      cfg.Playback,
		decoder:       cfg.Decoder,
		newVisualizer: cfg.NewVisualizer,
		targetRate:    cfg.TargetRate,
		logger:        logger.With(slog.String("session_id", id)),
		state:         StateIdle,
		lastActivity:  now,
		tap:           &monitorTap{},
	}, nil
}

// Start begins a fresh capture from Idle or Stopped and resumes from Paused.
// It is a no-op while Recording. On failure the state is unchanged.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Session) startLocked(ctx context.Context) error {
	if s.closed {
		return errSessionClosed
	}
	s.lastActivity = time.Now()

	switch s.state {
	case StateRecording:
		return nil

	case StatePaused:
		s.switchVisualizer(ModeRecord)
		if err := s.capture.Resume(ctx, s.tap); err != nil {
			s.logger.Warn("Failed to resume capture", slog.String("error", err.Error()))
			return err
		}
		s.segments++
		s.state = StateRecording
		s.logger.Info("Recording resumed", slog.Int("segment", s.segments))
		return nil

	default:
		s.switchVisualizer(ModeRecord)
		if err := s.capture.Start(ctx, s.tap); err != nil {
			s.logger.Warn("Failed to start capture", slog.String("error", err.Error()))
			return err
		}
		// A full Start discards the previous recording
		s.blob = nil
		s.segments = 1
		s.state = StateRecording
		s.logger.Info("Recording started", slog.String("mime_type", s.capture.MIMEType()))
		return nil
	}
}

// Resume continues a paused recording; it is a no-op in every other state
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused {
		return nil
	}
	return s.startLocked(ctx)
}

// Pause suspends capture and keeps the intermediate snapshot.
// It is a no-op unless Recording.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return nil
	}
	s.lastActivity = time.Now()

	snapshot, err := s.capture.Pause(ctx)
	if err != nil {
		return fmt.Errorf("failed to pause capture: %w", err)
	}

	s.blob = snapshot
	s.state = StatePaused
	s.logger.Info("Recording paused", slog.Int("blob_size", len(snapshot)))
	return nil
}

// Stop finalizes the recording from Recording or Paused.
// It is a no-op from Idle and Stopped.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording && s.state != StatePaused {
		return nil
	}
	s.lastActivity = time.Now()

	snapshot, err := s.capture.Stop(ctx)
	if err != nil {
		return fmt.Errorf("failed to stop capture: %w", err)
	}

	s.blob = snapshot
	s.state = StateStopped
	s.logger.Info("Recording stopped",
		slog.Int("blob_size", len(snapshot)),
		slog.Int("segments", s.segments),
	)
	return nil
}

// Play renders the current blob through the playback engine without
// changing state. It returns audio.ErrNoAudio when nothing was captured.
func (s *Session) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.blob) == 0 {
		return audio.ErrNoAudio
	}
	if s.playback == nil {
		return errors.New("no playback engine configured")
	}
	s.lastActivity = time.Now()

	// The record handle stays live while capture is still writing to it
	var monitor io.Writer
	if s.state != StateRecording {
		s.switchVisualizer(ModePlayback)
		monitor = s.tap
	}

	started := time.Now()
	if err := s.playback.Play(ctx, s.blob, s.capture.MIMEType(), monitor); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}

	s.logger.Debug("Playback finished", slog.Duration("duration", time.Since(started)))
	return nil
}

// ConvertToWAV decodes the current blob at the target rate and encodes
// channel 0 as a mono 16-bit WAV asset.
//
// audio.ErrNoAudio means there is nothing to transcribe; a corrupt or
// unsupported container yields *audio.DecodeError.
func (s *Session) ConvertToWAV(ctx context.Context) (*audio.WAVAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.blob) == 0 {
		return nil, audio.ErrNoAudio
	}
	s.lastActivity = time.Now()

	mimeType := s.capture.MIMEType()
	pcm, err := s.decoder.Decode(ctx, s.blob, mimeType, s.targetRate)
	if err != nil {
		var decErr *audio.DecodeError
		if errors.As(err, &decErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &audio.DecodeError{MIMEType: mimeType, Err: err}
	}
	if pcm.NumSamples() == 0 {
		return nil, audio.ErrNoAudio
	}

	asset := audio.NewWAVAsset(pcm)
	s.logger.Info("Converted recording to WAV",
		slog.Int("channels", pcm.NumChannels()),
		slog.Int("sample_rate", asset.SampleRate()),
		slog.Int("samples", asset.NumSamples()),
		slog.Duration("duration", asset.Duration()),
	)
	return asset, nil
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Blob returns a copy of the captured container and its MIME type.
// ok is false until a Pause or Stop produced a snapshot.
func (s *Session) Blob() (blob []byte, mimeType string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.blob == nil {
		return nil, "", false
	}
	out := make([]byte, len(s.blob))
	copy(out, s.blob)
	return out, s.capture.MIMEType(), true
}

// Close releases the visualizer and stops any active capture.
// The captured blob is discarded.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var stopErr error
	if s.state == StateRecording || s.state == StatePaused {
		if _, err := s.capture.Stop(ctx); err != nil {
			stopErr = fmt.Errorf("failed to stop capture: %w", err)
		}
		s.state = StateStopped
	}
	s.blob = nil

	if err := s.tap.swap(nil); err != nil && stopErr == nil {
		stopErr = err
	}
	return stopErr
}

// SessionInfo is a point-in-time view of a session for status output
type SessionInfo struct {
	ID           string        `json:"id"`
	State        string        `json:"state"`
	MIMEType     string        `json:"mime_type"`
	BlobSize     int           `json:"blob_size"`
	Segments     int           `json:"segments"`
	Visualizer   string        `json:"visualizer,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	Age          time.Duration `json:"age"`
}

// Info returns the current session info
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		ID:           s.ID,
		State:        s.state.String(),
		MIMEType:     s.capture.MIMEType(),
		BlobSize:     len(s.blob),
		Segments:     s.segments,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
		Age:          time.Since(s.CreatedAt),
	}
	if mode, ok := s.tap.mode(); ok {
		info.Visualizer = mode.String()
	}
	return info
}

func (s *Session) idleSince() (time.Time, State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity, s.state
}

// switchVisualizer releases the current handle before acquiring one for mode.
// Visualization is best effort and never fails an operation.
func (s *Session) switchVisualizer(mode VisualizerMode) {
	if s.newVisualizer == nil {
		return
	}
	if current, ok := s.tap.mode(); ok && current == mode {
		return
	}

	if err := s.tap.swap(nil); err != nil {
		s.logger.Debug("Failed to close visualizer", slog.String("error", err.Error()))
	}

	viz, err := s.newVisualizer(mode)
	if err != nil {
		s.logger.Warn("Failed to acquire visualizer",
			slog.String("mode", mode.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.tap.set(viz, mode)
}

var errSessionClosed = errors.New("session is closed")

// monitorTap forwards audio to the session's current visualizer.
// Capture goroutines write here without taking the session mutex.
type monitorTap struct {
	mu      sync.Mutex
	viz     Visualizer
	vizMode VisualizerMode
}

func (t *monitorTap) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.viz != nil {
		_, _ = t.viz.Write(p)
	}
	return len(p), nil
}

func (t *monitorTap) mode() (VisualizerMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vizMode, t.viz != nil
}

func (t *monitorTap) set(viz Visualizer, mode VisualizerMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.viz = viz
	t.vizMode = mode
}

// swap closes the current handle and installs viz in its place
func (t *monitorTap) swap(viz Visualizer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.viz != nil {
		err = t.viz.Close()
	}
	t.viz = viz
	return err
}

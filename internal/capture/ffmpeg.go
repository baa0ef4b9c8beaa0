package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/skypro1111/nextgen-voice/internal/audio"
	"github.com/skypro1111/nextgen-voice/internal/recorder"
)

const (
	defaultStartupGrace = 250 * time.Millisecond
	defaultStopGrace    = 1200 * time.Millisecond
)

// FFmpegConfig configures microphone capture through ffmpeg
type FFmpegConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int

	// StartupGrace is how long ffmpeg must stay alive before the device
	// counts as granted.
	StartupGrace time.Duration
}

// FFmpegCapture records mono s16le PCM from an ffmpeg subprocess.
// Pause stops the process and keeps the samples; Resume starts a new process
// that appends to the same recording. Snapshots are WAV files.
type FFmpegCapture struct {
	cfg    FFmpegConfig
	logger *slog.Logger

	mu   sync.Mutex
	proc *ffmpegProcess

	pcmMu sync.Mutex
	pcm   []byte
}

// NewFFmpegCapture creates a capture engine with defaults filled in
func NewFFmpegCapture(cfg FFmpegConfig, logger *slog.Logger) *FFmpegCapture {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = defaultStartupGrace
	}
	return &FFmpegCapture{cfg: cfg, logger: logger}
}

func (c *FFmpegCapture) MIMEType() string {
	return "audio/wav"
}

// Start discards any previous recording and begins a new one
func (c *FFmpegCapture) Start(ctx context.Context, monitor io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc != nil {
		return errors.New("capture already running")
	}

	c.pcmMu.Lock()
	c.pcm = nil
	c.pcmMu.Unlock()

	return c.launch(ctx, monitor)
}

// Resume appends a new capture segment to the current recording
func (c *FFmpegCapture) Resume(ctx context.Context, monitor io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc != nil {
		return nil
	}
	return c.launch(ctx, monitor)
}

func (c *FFmpegCapture) Pause(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.halt(); err != nil {
		return nil, err
	}
	return c.snapshot()
}

func (c *FFmpegCapture) Stop(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.halt(); err != nil {
		return nil, err
	}
	return c.snapshot()
}

func (c *FFmpegCapture) device() string {
	return c.cfg.InputFormat + ":" + c.cfg.InputDevice
}

func (c *FFmpegCapture) launch(ctx context.Context, monitor io.Writer) error {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.cfg.InputFormat,
		"-i", c.cfg.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(c.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	// The process outlives ctx, which only bounds device acquisition
	cmd := exec.Command(c.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &pcmSink{capture: c, monitor: monitor}
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return &recorder.DeviceAccessError{Device: c.device(), Reason: "failed to start ffmpeg", Err: err}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		reason := stringsTrimSpaceSafe(stderr.String())
		if reason == "" {
			reason = "ffmpeg exited before capture started"
		}
		return &recorder.DeviceAccessError{Device: c.device(), Reason: reason, Err: err}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return ctx.Err()
	case <-time.After(c.cfg.StartupGrace):
	}

	c.proc = &ffmpegProcess{
		process: cmd.Process,
		stderr:  &stderr,
		waitErr: waitErr,
	}

	c.logger.Debug("ffmpeg capture running",
		slog.String("device", c.device()),
		slog.Int("sample_rate", c.cfg.SampleRate),
	)
	return nil
}

// halt stops the running process, if any
func (c *FFmpegCapture) halt() error {
	if c.proc == nil {
		return nil
	}
	err := c.proc.stop()
	c.proc = nil
	if err != nil {
		return fmt.Errorf("ffmpeg capture failed: %w", err)
	}
	return nil
}

func (c *FFmpegCapture) snapshot() ([]byte, error) {
	c.pcmMu.Lock()
	defer c.pcmMu.Unlock()

	samples := make([]int16, len(c.pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(c.pcm[i*2:]))
	}

	data, err := audio.EncodeWAV(samples, c.cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode capture snapshot: %w", err)
	}
	return data, nil
}

// pcmSink appends ffmpeg output to the recording and mirrors it to the monitor
type pcmSink struct {
	capture *FFmpegCapture
	monitor io.Writer
}

func (s *pcmSink) Write(p []byte) (int, error) {
	s.capture.pcmMu.Lock()
	s.capture.pcm = append(s.capture.pcm, p...)
	s.capture.pcmMu.Unlock()

	if s.monitor != nil {
		_, _ = s.monitor.Write(p)
	}
	return len(p), nil
}

type ffmpegProcess struct {
	process *os.Process
	stderr  *bytes.Buffer
	waitErr <-chan error
}

// stop interrupts ffmpeg so it flushes, then kills it after the grace period
func (p *ffmpegProcess) stop() error {
	_ = p.process.Signal(os.Interrupt)

	var stopErr error
	select {
	case err, ok := <-p.waitErr:
		if ok {
			stopErr = normalizeStopErr(err)
		}
	case <-time.After(defaultStopGrace):
		_ = p.process.Kill()
		err, ok := <-p.waitErr
		if ok {
			stopErr = normalizeStopErr(err)
		}
	}

	if stopErr != nil && p.stderr.Len() > 0 {
		stopErr = fmt.Errorf("%w: %s", stopErr, stringsTrimSpaceSafe(p.stderr.String()))
	}
	return stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

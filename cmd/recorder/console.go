package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/skypro1111/nextgen-voice/internal/audio"
	"github.com/skypro1111/nextgen-voice/internal/recorder"
	"github.com/skypro1111/nextgen-voice/internal/transcription"
	"github.com/skypro1111/nextgen-voice/internal/vad"
)

const helpText = `Commands:
  start      begin recording (resumes when paused)
  pause      pause recording
  resume     resume a paused recording
  stop       finish recording
  play       play back the last snapshot
  transcribe stop if needed, convert to 16 kHz WAV and upload to the relay
  health     check that the relay is reachable
  status     show the session state
  new        discard this session and start a fresh one
  help       show this help
  quit       exit`

// transcriber is the part of the relay client the console needs
type transcriber interface {
	Upload(ctx context.Context, asset *audio.WAVAsset) (*transcription.Result, error)
	CheckHealth(ctx context.Context) bool
}

// peer reports whether a remote capture device is attached
type peer interface {
	Connected() bool
}

// console drives one recording session from text commands
type console struct {
	manager *recorder.Manager
	client  transcriber
	out     io.Writer
	logger  *slog.Logger
	peer    peer

	sessionID string
}

func newConsole(manager *recorder.Manager, client transcriber, out io.Writer, logger *slog.Logger) (*console, error) {
	c := &console{manager: manager, client: client, out: out, logger: logger}
	if _, err := c.newSession(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *console) newSession() (*recorder.Session, error) {
	session, err := c.manager.CreateSession()
	if err != nil {
		return nil, err
	}
	c.sessionID = session.ID
	return session, nil
}

// session returns the active session, replacing it if the manager expired it
func (c *console) session() (*recorder.Session, error) {
	if session, ok := c.manager.GetSession(c.sessionID); ok {
		return session, nil
	}
	c.printf("Previous session expired, starting a new one\n")
	return c.newSession()
}

func (c *console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

// run reads commands from in until quit, EOF or ctx ends
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	c.printf("%s\n> ", helpText)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if c.execute(ctx, line) {
				return nil
			}
			c.printf("> ")
		}
	}
}

// execute runs one command and reports whether the console should exit
func (c *console) execute(ctx context.Context, line string) bool {
	command := strings.ToLower(strings.TrimSpace(line))
	if command == "" {
		return false
	}

	switch command {
	case "quit", "exit":
		return true
	case "help":
		c.printf("%s\n", helpText)
		return false
	case "health":
		c.health(ctx)
		return false
	}

	session, err := c.session()
	if err != nil {
		c.printf("Error: %v\n", err)
		return false
	}

	switch command {
	case "start":
		c.report(session, session.Start(ctx))
	case "pause":
		c.report(session, session.Pause(ctx))
	case "resume":
		c.report(session, session.Resume(ctx))
	case "stop":
		c.report(session, session.Stop(ctx))
	case "play":
		c.play(ctx, session)
	case "transcribe":
		c.transcribe(ctx, session)
	case "status":
		c.status(session)
	case "new":
		c.manager.RemoveSession(session.ID)
		if next, err := c.newSession(); err != nil {
			c.printf("Error: %v\n", err)
		} else {
			c.printf("New session %s\n", next.ID)
		}
	default:
		c.printf("Unknown command %q, type 'help'\n", command)
	}
	return false
}

func (c *console) report(session *recorder.Session, err error) {
	if err != nil {
		c.printf("%s\n", describeError(err))
		return
	}
	c.printf("State: %s\n", session.State())
}

func (c *console) play(ctx context.Context, session *recorder.Session) {
	c.printf("Playing...\n")
	if err := session.Play(ctx); err != nil {
		c.printf("%s\n", describeError(err))
		return
	}
	c.printf("Playback finished\n")
}

func (c *console) transcribe(ctx context.Context, session *recorder.Session) {
	switch session.State() {
	case recorder.StateRecording, recorder.StatePaused:
		if err := session.Stop(ctx); err != nil {
			c.printf("%s\n", describeError(err))
			return
		}
	}

	asset, err := session.ConvertToWAV(ctx)
	if err != nil {
		c.printf("%s\n", describeError(err))
		return
	}

	c.printf("Uploading %.1fs of audio...\n", asset.Duration().Seconds())
	c.speechReport(asset)
	result, err := c.client.Upload(ctx, asset)
	if err != nil {
		c.printf("%s\n", describeError(err))
		return
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		text = "(no speech detected)"
	}
	c.printf("Transcription: %s\n", text)
	if result.Language != "" {
		c.printf("Language: %s\n", result.Language)
	}
	for _, seg := range result.Segments {
		c.printf("  [%6.2f - %6.2f] %s\n", seg.Start, seg.End, strings.TrimSpace(seg.Text))
	}
}

// speechReport prints how much of the asset looks like speech. Best effort.
func (c *console) speechReport(asset *audio.WAVAsset) {
	samples, rate, err := audio.DecodeWAV(asset.Bytes())
	if err != nil {
		c.logger.Debug("Skipping speech report", slog.String("error", err.Error()))
		return
	}

	processor, err := vad.NewDefaultProcessor(rate)
	if err != nil {
		return
	}

	spans, err := processor.Segments(samples)
	if err != nil {
		c.logger.Debug("Skipping speech report", slog.String("error", err.Error()))
		return
	}

	stats := processor.GetStats()
	if stats.TotalWindows == 0 {
		return
	}
	c.printf("Speech detected in %.0f%% of the recording (%d spans)\n", stats.VoicePercentage, len(spans))
}

func (c *console) health(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if c.client.CheckHealth(ctx) {
		c.printf("Relay is up\n")
		return
	}
	c.printf("Relay is not reachable\n")
}

func (c *console) status(session *recorder.Session) {
	info := session.Info()
	c.printf("Session %s\n", info.ID)
	c.printf("  state:      %s\n", info.State)
	c.printf("  format:     %s\n", info.MIMEType)
	c.printf("  captured:   %d bytes in %d segment(s)\n", info.BlobSize, info.Segments)
	if blob, mimeType, ok := session.Blob(); ok && audio.IsWAVMIME(mimeType) {
		if seconds, err := audio.GetWAVDuration(blob); err == nil {
			c.printf("  duration:   %.1fs\n", seconds)
		}
	}
	if info.Visualizer != "" {
		c.printf("  visualizer: %s\n", info.Visualizer)
	}
	c.printf("  age:        %s\n", info.Age.Round(time.Second))
	c.printf("  sessions:   %d\n", c.manager.GetActiveSessionCount())
	if holder := c.manager.CaptureHolder(); holder != "" && holder != info.ID {
		c.printf("  device:     in use by session %s\n", holder)
	}
	if c.peer != nil {
		if c.peer.Connected() {
			c.printf("  browser:    connected\n")
		} else {
			c.printf("  browser:    waiting for the capture page\n")
		}
	}
}

// oneShot records for d, then stops and transcribes
func (c *console) oneShot(ctx context.Context, d time.Duration) error {
	session, err := c.session()
	if err != nil {
		return err
	}

	if err := session.Start(ctx); err != nil {
		c.printf("%s\n", describeError(err))
		return err
	}
	c.printf("Recording for %s...\n", d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	// The recording is finalised even when interrupted
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Stop(stopCtx); err != nil {
		c.printf("%s\n", describeError(err))
		return err
	}

	c.transcribe(stopCtx, session)
	return nil
}

// describeError turns operation errors into user-facing messages.
// "No audio" is a normal outcome and is reported apart from failures.
func describeError(err error) string {
	var (
		deviceErr    *recorder.DeviceAccessError
		decodeErr    *audio.DecodeError
		uploadErr    *transcription.UploadError
		networkErr   *transcription.NetworkError
		malformedErr *transcription.MalformedResponseError
	)

	switch {
	case errors.Is(err, audio.ErrNoAudio):
		return "No audio recorded yet, nothing to do"
	case errors.As(err, &deviceErr):
		return fmt.Sprintf("Microphone unavailable: %v", deviceErr)
	case errors.As(err, &decodeErr):
		return fmt.Sprintf("Could not decode the recording: %v", decodeErr.Err)
	case errors.As(err, &uploadErr):
		msg := fmt.Sprintf("Transcription failed (HTTP %d): %s", uploadErr.StatusCode, uploadErr.ServerMessage)
		if uploadErr.Details != "" {
			msg += "\n  " + strings.TrimSpace(uploadErr.Details)
		}
		return msg
	case errors.As(err, &networkErr):
		return fmt.Sprintf("Relay unreachable at %s", networkErr.Endpoint)
	case errors.As(err, &malformedErr):
		return fmt.Sprintf("Relay returned an unexpected response: %s", malformedErr.Reason)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Interrupted"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

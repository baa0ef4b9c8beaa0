package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/skypro1111/nextgen-voice/internal/config"
	"github.com/skypro1111/nextgen-voice/internal/transcription"
)

// Engine failure messages, sent to clients as the error envelope's "error"
const (
	MsgTranscriptionFailed = "Transcription failed"
	MsgParseFailed         = "Failed to parse transcription result"
	MsgStartFailed         = "Failed to start transcription process"
	MsgTimedOut            = "Transcription timed out"
)

// EngineResult is the single JSON object a speech engine prints on stdout
type EngineResult struct {
	Text     string                  `json:"text"`
	Segments []transcription.Segment `json:"segments"`
	Language string                  `json:"language,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// EngineError reports a failed engine run with client-facing details
type EngineError struct {
	Message string
	Details string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Engine turns an audio file into a transcription
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (*EngineResult, error)
}

// SubprocessEngine runs "<python> <script> <audioPath>" and parses its stdout
type SubprocessEngine struct {
	command    string
	script     string
	venvPython string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewSubprocessEngine creates an engine from configuration
func NewSubprocessEngine(cfg config.EngineConfig, logger *slog.Logger) *SubprocessEngine {
	return &SubprocessEngine{
		command:    cfg.Command,
		script:     cfg.Script,
		venvPython: cfg.VenvPython,
		timeout:    cfg.GetTimeoutDuration(),
		logger:     logger,
	}
}

// Interpreter returns the virtualenv interpreter when it exists, else the configured command
func (e *SubprocessEngine) Interpreter() string {
	if e.venvPython != "" {
		if info, err := os.Stat(e.venvPython); err == nil && !info.IsDir() {
			return e.venvPython
		}
	}
	return e.command
}

// Transcribe runs the engine on audioPath
func (e *SubprocessEngine) Transcribe(ctx context.Context, audioPath string) (*EngineResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := make([]string, 0, 2)
	if e.script != "" {
		args = append(args, e.script)
	}
	args = append(args, audioPath)

	interpreter := e.Interpreter()
	cmd := exec.CommandContext(ctx, interpreter, args...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("Running transcription engine",
		slog.String("interpreter", interpreter),
		slog.String("audio_path", audioPath),
	)

	if err := cmd.Start(); err != nil {
		return nil, &EngineError{Message: MsgStartFailed, Details: err.Error(), Err: err}
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &EngineError{Message: MsgTimedOut, Details: stringsTrimSpaceSafe(stderr.String()), Err: ctxErr}
		}
		e.logger.Warn("Transcription engine exited with error",
			slog.String("error", err.Error()),
			slog.String("stderr", stringsTrimSpaceSafe(stderr.String())),
		)
		return nil, &EngineError{Message: MsgTranscriptionFailed, Details: stderr.String(), Err: err}
	}

	if stderr.Len() > 0 {
		e.logger.Debug("Transcription engine stderr", slog.String("stderr", stringsTrimSpaceSafe(stderr.String())))
	}

	result, err := parseEngineOutput(stdout.Bytes())
	if err != nil {
		return nil, &EngineError{Message: MsgParseFailed, Details: stdout.String(), Err: err}
	}

	if result.Error != "" {
		return nil, &EngineError{Message: MsgTranscriptionFailed, Details: result.Error}
	}

	return result, nil
}

// parseEngineOutput reads the engine's JSON object. Engines that print
// diagnostics on stdout are tolerated as long as the last line is the object.
func parseEngineOutput(out []byte) (*EngineResult, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, errors.New("engine produced no output")
	}

	var result EngineResult
	if err := json.Unmarshal(trimmed, &result); err != nil {
		idx := bytes.LastIndexByte(trimmed, '\n')
		if idx < 0 {
			return nil, err
		}
		if lastErr := json.Unmarshal(bytes.TrimSpace(trimmed[idx+1:]), &result); lastErr != nil {
			return nil, err
		}
	}

	if result.Segments == nil {
		result.Segments = []transcription.Segment{}
	}
	result.Text = strings.TrimSpace(result.Text)
	return &result, nil
}

func stringsTrimSpaceSafe(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(s)
}

package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
)

// FFplayPlayback plays container blobs through an ffplay subprocess fed on stdin
type FFplayPlayback struct {
	command string
	logger  *slog.Logger
}

func NewFFplayPlayback(command string, logger *slog.Logger) *FFplayPlayback {
	if command == "" {
		command = "ffplay"
	}
	return &FFplayPlayback{command: command, logger: logger}
}

// Play blocks until playback finishes or ctx is cancelled.
// Bytes are mirrored to monitor as ffplay consumes them.
func (p *FFplayPlayback) Play(ctx context.Context, blob []byte, mimeType string, monitor io.Writer) error {
	args := []string{
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
	}

	cmd := exec.CommandContext(ctx, p.command, args...)
	var stdin io.Reader = bytes.NewReader(blob)
	if monitor != nil {
		stdin = io.TeeReader(stdin, monitor)
	}
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger.Debug("Starting playback",
		slog.String("mime_type", mimeType),
		slog.Int("size", len(blob)),
	)

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffplay failed: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
	}
	return nil
}

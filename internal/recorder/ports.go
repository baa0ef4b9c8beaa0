package recorder

import (
	"context"
	"fmt"
	"io"
)

// CaptureEngine records audio from an input device into a container blob.
//
// Start and Resume block until the device grants access. Pause and Stop return
// a snapshot holding every byte captured since the last Start.
type CaptureEngine interface {
	Start(ctx context.Context, monitor io.Writer) error
	Pause(ctx context.Context) ([]byte, error)
	Resume(ctx context.Context, monitor io.Writer) error
	Stop(ctx context.Context) ([]byte, error)
	MIMEType() string
}

// PlaybackEngine renders a container blob to an output device
type PlaybackEngine interface {
	Play(ctx context.Context, blob []byte, mimeType string, monitor io.Writer) error
}

// VisualizerMode selects what a visualizer handle renders
type VisualizerMode int

const (
	ModeRecord VisualizerMode = iota
	ModePlayback
)

func (m VisualizerMode) String() string {
	switch m {
	case ModeRecord:
		return "record"
	case ModePlayback:
		return "playback"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Visualizer consumes audio bytes for display until closed
type Visualizer interface {
	io.Writer
	Close() error
}

// VisualizerFactory acquires a new visualizer handle for mode
type VisualizerFactory func(mode VisualizerMode) (Visualizer, error)

// DeviceAccessError reports a denied permission or a missing input device
type DeviceAccessError struct {
	Device string
	Reason string
	Err    error
}

func (e *DeviceAccessError) Error() string {
	msg := "device access failed"
	if e.Device != "" {
		msg = fmt.Sprintf("device access failed for %s", e.Device)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceAccessError) Unwrap() error {
	return e.Err
}

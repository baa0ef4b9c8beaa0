package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNoAudio reports that there is no captured audio to work with.
// It is a normal outcome, distinct from a DecodeError.
var ErrNoAudio = errors.New("no audio captured")

// DecodeError reports a container that could not be decoded to PCM
type DecodeError struct {
	MIMEType string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.MIMEType == "" {
		return fmt.Sprintf("failed to decode audio: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode %s audio: %v", e.MIMEType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder turns a captured container blob into PCM at targetRate
type Decoder interface {
	Decode(ctx context.Context, blob []byte, mimeType string, targetRate int) (*PCMBuffer, error)
}

// WAVDecoder decodes RIFF/WAVE containers with integer PCM payloads
type WAVDecoder struct{}

func NewWAVDecoder() *WAVDecoder {
	return &WAVDecoder{}
}

// Decode normalises every channel to [-1, 1] and resamples to targetRate
func (d *WAVDecoder) Decode(ctx context.Context, blob []byte, mimeType string, targetRate int) (*PCMBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, &DecodeError{MIMEType: mimeType, Err: errors.New("empty container")}
	}

	dec := wav.NewDecoder(bytes.NewReader(blob))
	if !dec.IsValidFile() {
		return nil, &DecodeError{MIMEType: mimeType, Err: errors.New("invalid WAV container")}
	}

	intBuf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &DecodeError{MIMEType: mimeType, Err: fmt.Errorf("failed to read PCM data: %w", err)}
	}

	pcm, err := fromIntBuffer(intBuf, int(dec.BitDepth))
	if err != nil {
		return nil, &DecodeError{MIMEType: mimeType, Err: err}
	}

	resampled, err := pcm.Resample(targetRate)
	if err != nil {
		return nil, &DecodeError{MIMEType: mimeType, Err: err}
	}
	return resampled, nil
}

// fromIntBuffer de-interleaves an integer buffer into normalised float channels
func fromIntBuffer(buf *goaudio.IntBuffer, bitDepth int) (*PCMBuffer, error) {
	if buf == nil || buf.Format == nil {
		return nil, errors.New("missing PCM format")
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	if buf.SourceBitDepth > 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}

	// 8-bit WAV samples are unsigned
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}
	scale := float32(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	out := &PCMBuffer{
		SampleRate: buf.Format.SampleRate,
		Channels:   make([][]float32, channels),
	}
	for c := range out.Channels {
		out.Channels[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			out.Channels[c][i] = float32(buf.Data[i*channels+c]-offset) / scale
		}
	}
	return out, nil
}

// FFmpegDecoder transcodes arbitrary containers (webm, ogg, mp4) to 16-bit WAV
// at the target rate with an ffmpeg subprocess, keeping the channel layout.
type FFmpegDecoder struct {
	command string
	wav     *WAVDecoder
}

func NewFFmpegDecoder(command string) *FFmpegDecoder {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegDecoder{command: command, wav: NewWAVDecoder()}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, blob []byte, mimeType string, targetRate int) (*PCMBuffer, error) {
	if len(blob) == 0 {
		return nil, &DecodeError{MIMEType: mimeType, Err: errors.New("empty container")}
	}
	if targetRate <= 0 {
		return nil, &DecodeError{MIMEType: mimeType, Err: fmt.Errorf("target rate must be positive, got %d", targetRate)}
	}

	workDir, err := os.MkdirTemp("", "nextgen-decode-")
	if err != nil {
		return nil, fmt.Errorf("failed to create decode directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	inPath := filepath.Join(workDir, "input"+extensionFor(mimeType))
	outPath := filepath.Join(workDir, "output.wav")
	if err := os.WriteFile(inPath, blob, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write decode input: %w", err)
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(targetRate),
		"-f", "wav",
		outPath,
	}

	cmd := exec.CommandContext(ctx, d.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &DecodeError{
			MIMEType: mimeType,
			Err:      fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}

	wavData, err := os.ReadFile(outPath)
	if err != nil {
		return nil, &DecodeError{MIMEType: mimeType, Err: fmt.Errorf("ffmpeg produced no output: %w", err)}
	}

	pcm, err := d.wav.Decode(ctx, wavData, "audio/wav", targetRate)
	if err != nil {
		var decErr *DecodeError
		if errors.As(err, &decErr) {
			decErr.MIMEType = mimeType
		}
		return nil, err
	}
	return pcm, nil
}

// MultiDecoder routes WAV containers to the in-process decoder and
// everything else to the fallback.
type MultiDecoder struct {
	WAV      Decoder
	Fallback Decoder
}

// NewMultiDecoder returns a decoder that handles WAV natively and uses
// ffmpegCommand for every other container.
func NewMultiDecoder(ffmpegCommand string) *MultiDecoder {
	return &MultiDecoder{
		WAV:      NewWAVDecoder(),
		Fallback: NewFFmpegDecoder(ffmpegCommand),
	}
}

func (m *MultiDecoder) Decode(ctx context.Context, blob []byte, mimeType string, targetRate int) (*PCMBuffer, error) {
	if IsWAVMIME(mimeType) || looksLikeWAV(blob) {
		return m.WAV.Decode(ctx, blob, mimeType, targetRate)
	}
	if m.Fallback == nil {
		return nil, &DecodeError{MIMEType: mimeType, Err: errors.New("unsupported container")}
	}
	return m.Fallback.Decode(ctx, blob, mimeType, targetRate)
}

// IsWAVMIME reports whether mimeType names a WAV container, ignoring parameters
func IsWAVMIME(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.ToLower(strings.TrimSpace(base)) {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return true
	}
	return false
}

func looksLikeWAV(blob []byte) bool {
	return len(blob) >= 12 && string(blob[0:4]) == "RIFF" && string(blob[8:12]) == "WAVE"
}

func extensionFor(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.ToLower(strings.TrimSpace(base)) {
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4", "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".bin"
	}
}

package audio

import (
	"fmt"
	"time"
)

// PCMBuffer holds decoded floating-point PCM audio.
// Every channel carries the same number of samples in [-1, 1].
type PCMBuffer struct {
	SampleRate int
	Channels   [][]float32
}

// NumChannels returns the channel count
func (b *PCMBuffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// NumSamples returns the per-channel sample count
func (b *PCMBuffer) NumSamples() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer
func (b *PCMBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.NumSamples()) * time.Second / time.Duration(b.SampleRate)
}

// Resample converts every channel to targetRate using linear interpolation.
// The buffer is returned unchanged when it is already at the target rate.
func (b *PCMBuffer) Resample(targetRate int) (*PCMBuffer, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("target rate must be positive, got %d", targetRate)
	}
	if b.SampleRate <= 0 {
		return nil, fmt.Errorf("source rate must be positive, got %d", b.SampleRate)
	}
	if b.SampleRate == targetRate {
		return b, nil
	}

	out := &PCMBuffer{
		SampleRate: targetRate,
		Channels:   make([][]float32, len(b.Channels)),
	}
	for i, channel := range b.Channels {
		out.Channels[i] = resampleLinear(channel, b.SampleRate, targetRate)
	}
	return out, nil
}

func resampleLinear(in []float32, fromRate, toRate int) []float32 {
	if len(in) == 0 {
		return []float32{}
	}

	outLen := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		outLen = 1
	}
	out := make([]float32, outLen)

	step := float64(fromRate) / float64(toRate)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = in[idx] + (in[idx+1]-in[idx])*frac
	}
	return out
}

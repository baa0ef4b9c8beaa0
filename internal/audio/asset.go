package audio

import (
	"bytes"
	"io"
	"time"
)

// WAVAsset is an immutable mono 16-bit WAV file produced from a PCMBuffer
type WAVAsset struct {
	data       []byte
	sampleRate int
	numSamples int
}

// NewWAVAsset encodes channel 0 of buf into a WAV asset
func NewWAVAsset(buf *PCMBuffer) *WAVAsset {
	asset := &WAVAsset{
		data:       EncodePCMBuffer(buf),
		numSamples: buf.NumSamples(),
	}
	if buf != nil {
		asset.sampleRate = buf.SampleRate
	}
	return asset
}

// Bytes returns a copy of the encoded file
func (a *WAVAsset) Bytes() []byte {
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}

// Reader returns a reader over the encoded file
func (a *WAVAsset) Reader() io.Reader {
	return bytes.NewReader(a.data)
}

// Len returns the encoded size in bytes
func (a *WAVAsset) Len() int {
	return len(a.data)
}

func (a *WAVAsset) SampleRate() int {
	return a.sampleRate
}

func (a *WAVAsset) NumSamples() int {
	return a.numSamples
}

// Duration returns the length of the audio payload
func (a *WAVAsset) Duration() time.Duration {
	if a.sampleRate <= 0 {
		return 0
	}
	return time.Duration(a.numSamples) * time.Second / time.Duration(a.sampleRate)
}

package audio

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

// toneSamples renders a 16-bit sine at half scale
func toneSamples(sampleRate int, seconds float64, frequency float64) []int16 {
	samples := make([]int16, int(float64(sampleRate)*seconds))
	for i := range samples {
		phase := 2 * math.Pi * frequency * float64(i) / float64(sampleRate)
		samples[i] = FloatToPCM16(float32(0.5 * math.Sin(phase)))
	}
	return samples
}

func TestEncodeWAVMetadata(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		seconds    float64
	}{
		{name: "upload rate", sampleRate: 16000, seconds: 0.25},
		{name: "capture rate", sampleRate: 48000, seconds: 0.1},
		{name: "header only", sampleRate: 16000, seconds: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := toneSamples(tt.sampleRate, tt.seconds, 440)

			data, err := EncodeWAV(samples, tt.sampleRate)
			if err != nil {
				t.Fatalf("EncodeWAV failed: %v", err)
			}
			if len(data) != WAVHeaderSize+2*len(samples) {
				t.Fatalf("Expected %d bytes, got %d", WAVHeaderSize+2*len(samples), len(data))
			}
			if err := ValidateWAV(data); err != nil {
				t.Fatalf("Encoded WAV rejected: %v", err)
			}

			info, err := GetWAVInfo(data)
			if err != nil {
				t.Fatalf("GetWAVInfo failed: %v", err)
			}
			if info.SampleRate != uint32(tt.sampleRate) || info.Channels != 1 || info.BitsPerSample != 16 {
				t.Errorf("Unexpected format: %+v", info)
			}
			if int(info.NumSamples) != len(samples) {
				t.Errorf("Expected %d samples, got %d", len(samples), info.NumSamples)
			}

			duration, err := GetWAVDuration(data)
			if err != nil {
				t.Fatalf("GetWAVDuration failed: %v", err)
			}
			if math.Abs(duration-tt.seconds) > 0.001 {
				t.Errorf("Expected duration %.3f, got %.3f", tt.seconds, duration)
			}
		})
	}

	if _, err := EncodeWAV([]int16{1, 2, 3}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestDecodeWAVReturnsSamples(t *testing.T) {
	samples := toneSamples(16000, 0.01, 1000)
	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected rate 16000, got %d", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("Sample %d differs: %d != %d", i, decoded[i], samples[i])
		}
	}
}

func TestDecodeWAVRejects(t *testing.T) {
	valid, err := EncodeWAV([]int16{1, 2, 3, 4}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), valid...)
		return f(b)
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr string
	}{
		{name: "too short", data: []byte("RIFF"), wantErr: "too short"},
		{name: "not riff", data: mutate(func(b []byte) []byte { copy(b, "RIFX"); return b }), wantErr: "missing RIFF"},
		{name: "not wave", data: mutate(func(b []byte) []byte { copy(b[8:], "AVI "); return b }), wantErr: "missing WAVE"},
		{name: "float format", data: mutate(func(b []byte) []byte { binary.LittleEndian.PutUint16(b[20:], 3); return b }), wantErr: "unsupported audio format"},
		{name: "stereo", data: mutate(func(b []byte) []byte { binary.LittleEndian.PutUint16(b[22:], 2); return b }), wantErr: "unsupported channel count"},
		{name: "8-bit", data: mutate(func(b []byte) []byte { binary.LittleEndian.PutUint16(b[34:], 8); return b }), wantErr: "unsupported bit depth"},
		{name: "truncated data", data: mutate(func(b []byte) []byte { return b[:len(b)-2] }), wantErr: "truncated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeWAV(tt.data)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetWAVInfoRejectsZeroRate(t *testing.T) {
	data := EncodePCMBuffer(&PCMBuffer{SampleRate: 0, Channels: [][]float32{{0}}})
	if _, err := GetWAVInfo(data); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestEncodePCMBufferHeader(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		numSamples int
	}{
		{name: "empty", sampleRate: 16000, numSamples: 0},
		{name: "single sample", sampleRate: 16000, numSamples: 1},
		{name: "one second at 8kHz", sampleRate: 8000, numSamples: 8000},
		{name: "odd length at 44.1kHz", sampleRate: 44100, numSamples: 1234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &PCMBuffer{
				SampleRate: tt.sampleRate,
				Channels:   [][]float32{make([]float32, tt.numSamples)},
			}

			out := EncodePCMBuffer(buf)

			if len(out) != 44+2*tt.numSamples {
				t.Fatalf("Expected length %d, got %d", 44+2*tt.numSamples, len(out))
			}
			if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[36:40]) != "data" {
				t.Fatalf("Missing RIFF/WAVE/data markers: %q", out[:44])
			}
			if got := binary.LittleEndian.Uint32(out[4:8]); got != uint32(36+2*tt.numSamples) {
				t.Errorf("Expected ChunkSize %d, got %d", 36+2*tt.numSamples, got)
			}
			if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(2*tt.numSamples) {
				t.Errorf("Expected Subchunk2Size %d, got %d", 2*tt.numSamples, got)
			}
			if got := binary.LittleEndian.Uint32(out[28:32]); got != uint32(tt.sampleRate*2) {
				t.Errorf("Expected ByteRate %d, got %d", tt.sampleRate*2, got)
			}
			if got := binary.LittleEndian.Uint16(out[20:22]); got != 1 {
				t.Errorf("Expected PCM format 1, got %d", got)
			}
			if got := binary.LittleEndian.Uint16(out[22:24]); got != 1 {
				t.Errorf("Expected mono, got %d channels", got)
			}
			if got := binary.LittleEndian.Uint16(out[32:34]); got != 2 {
				t.Errorf("Expected block align 2, got %d", got)
			}
			if got := binary.LittleEndian.Uint16(out[34:36]); got != 16 {
				t.Errorf("Expected 16 bits per sample, got %d", got)
			}
		})
	}
}

func TestEncodePCMBufferMatchesEncodeWAV(t *testing.T) {
	buf := &PCMBuffer{
		SampleRate: 16000,
		Channels:   [][]float32{{0, 0.5, -0.5, 1, -1}},
	}

	samples := make([]int16, 0, 5)
	for _, s := range buf.Channels[0] {
		samples = append(samples, FloatToPCM16(s))
	}
	expected, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	got := EncodePCMBuffer(buf)
	if string(got) != string(expected) {
		t.Errorf("EncodePCMBuffer and EncodeWAV disagree")
	}
}

func TestFloatToPCM16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{in: 1.5, want: 32767},
		{in: -1.5, want: -32768},
		{in: 1, want: 32767},
		{in: -1, want: -32768},
		{in: 0, want: 0},
		{in: 0.5, want: 16383},
		{in: -0.5, want: -16384},
		{in: float32(math.NaN()), want: 0},
	}

	for _, tt := range tests {
		if got := FloatToPCM16(tt.in); got != tt.want {
			t.Errorf("FloatToPCM16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEncodePCMBufferClampsAndSelectsChannelZero(t *testing.T) {
	buf := &PCMBuffer{
		SampleRate: 16000,
		Channels: [][]float32{
			{1.5, -1.5},
			{0.25, 0.25},
		},
	}

	out := EncodePCMBuffer(buf)
	if len(out) != 48 {
		t.Fatalf("Expected 48 bytes, got %d", len(out))
	}

	first := int16(binary.LittleEndian.Uint16(out[44:46]))
	second := int16(binary.LittleEndian.Uint16(out[46:48]))
	if first != 32767 {
		t.Errorf("Expected 1.5 to encode as 32767, got %d", first)
	}
	if second != -32768 {
		t.Errorf("Expected -1.5 to encode as -32768, got %d", second)
	}
}

func TestEncodePCMBufferNil(t *testing.T) {
	out := EncodePCMBuffer(nil)
	if len(out) != WAVHeaderSize {
		t.Fatalf("Expected header-only output, got %d bytes", len(out))
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 0 {
		t.Errorf("Expected empty data chunk, got %d", got)
	}
}

package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// WAVHeaderSize is the size of the canonical PCM RIFF/WAVE header
const WAVHeaderSize = 44

// WAVHeader mirrors the canonical 44-byte PCM header
type WAVHeader struct {
	ChunkSize     uint32 // 36 + data size
	AudioFormat   uint16 // 1 = PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

func monoPCM16Header(numSamples, sampleRate int) WAVHeader {
	dataSize := uint32(numSamples * 2)
	return WAVHeader{
		ChunkSize:     36 + dataSize,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		DataSize:      dataSize,
	}
}

// put writes h into the first WAVHeaderSize bytes of out
func (h WAVHeader) put(out []byte) {
	le := binary.LittleEndian
	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], h.ChunkSize)
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], h.AudioFormat)
	le.PutUint16(out[22:24], h.NumChannels)
	le.PutUint32(out[24:28], h.SampleRate)
	le.PutUint32(out[28:32], h.ByteRate)
	le.PutUint16(out[32:34], h.BlockAlign)
	le.PutUint16(out[34:36], h.BitsPerSample)
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], h.DataSize)
}

// readHeader validates the chunk layout and parses the header fields
func readHeader(data []byte) (WAVHeader, error) {
	if err := ValidateWAV(data); err != nil {
		return WAVHeader{}, err
	}
	le := binary.LittleEndian
	return WAVHeader{
		ChunkSize:     le.Uint32(data[4:8]),
		AudioFormat:   le.Uint16(data[20:22]),
		NumChannels:   le.Uint16(data[22:24]),
		SampleRate:    le.Uint32(data[24:28]),
		ByteRate:      le.Uint32(data[28:32]),
		BlockAlign:    le.Uint16(data[32:34]),
		BitsPerSample: le.Uint16(data[34:36]),
		DataSize:      le.Uint32(data[40:44]),
	}, nil
}

// EncodeWAV encodes mono PCM-16 samples into WAV format.
// Empty input produces a valid header-only file.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	out := make([]byte, WAVHeaderSize+len(samples)*2)
	monoPCM16Header(len(samples), sampleRate).put(out)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[WAVHeaderSize+2*i:], uint16(sample))
	}
	return out, nil
}

// FloatToPCM16 converts a float sample to a signed 16-bit value.
// The sample is clamped to [-1, 1]; negative values scale by 32768 and
// non-negative values by 32767, truncating toward zero.
func FloatToPCM16(sample float32) int16 {
	s := float64(sample)
	if math.IsNaN(s) {
		return 0
	}
	s = math.Max(-1, math.Min(1, s))

	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// EncodePCMBuffer renders channel 0 of buf as a mono 16-bit little-endian WAV file.
// Additional channels are ignored rather than mixed down.
func EncodePCMBuffer(buf *PCMBuffer) []byte {
	var channel []float32
	sampleRate := 0
	if buf != nil {
		sampleRate = buf.SampleRate
		if len(buf.Channels) > 0 {
			channel = buf.Channels[0]
		}
	}

	out := make([]byte, WAVHeaderSize+len(channel)*2)
	monoPCM16Header(len(channel), sampleRate).put(out)
	for i, sample := range channel {
		binary.LittleEndian.PutUint16(out[WAVHeaderSize+2*i:], uint16(FloatToPCM16(sample)))
	}
	return out
}

// DecodeWAV decodes mono 16-bit WAV data back to PCM-16 samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, 0, err
	}

	switch {
	case header.AudioFormat != 1:
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	case header.BitsPerSample != 16:
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	case header.NumChannels != 1:
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	numSamples := int(header.DataSize) / 2
	if available := (len(data) - WAVHeaderSize) / 2; numSamples > available {
		return nil, 0, fmt.Errorf("WAV data truncated: header declares %d samples, %d present", numSamples, available)
	}

	samples := make([]int16, numSamples)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[WAVHeaderSize+2*i:]))
	}
	return samples, int(header.SampleRate), nil
}

// ValidateWAV checks the canonical chunk layout without decoding the audio data
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	markers := []struct {
		offset int
		id     string
		what   string
	}{
		{0, "RIFF", "RIFF header"},
		{8, "WAVE", "WAVE format"},
		{12, "fmt ", "fmt chunk"},
		{36, "data", "data chunk"},
	}
	for _, m := range markers {
		if string(data[m.offset:m.offset+4]) != m.id {
			return fmt.Errorf("invalid WAV file: missing %s", m.what)
		}
	}
	return nil
}

// GetWAVDuration returns the duration of a canonical WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	ByteRate      uint32  `json:"byte_rate"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, err
	}

	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}
	if header.BlockAlign == 0 {
		return nil, fmt.Errorf("invalid block align: 0")
	}

	numSamples := header.DataSize / uint32(header.BlockAlign)
	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		ByteRate:      header.ByteRate,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.DataSize,
		NumSamples:    numSamples,
	}, nil
}

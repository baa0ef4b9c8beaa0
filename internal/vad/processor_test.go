package vad

import (
	"math"
	"testing"
	"time"
)

func constantSamples(n int, value int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestNewProcessor(t *testing.T) {
	threshold := float32(0.5)
	windowSize := 512
	sampleRate := 8000

	processor, err := NewProcessor(threshold, windowSize, sampleRate)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	if processor == nil {
		t.Fatal("NewProcessor returned nil")
	}

	if processor.threshold != threshold {
		t.Errorf("Expected threshold %f, got %f", threshold, processor.threshold)
	}

	if processor.GetWindowSize() != windowSize {
		t.Errorf("Expected window size %d, got %d", windowSize, processor.GetWindowSize())
	}

	if processor.sampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, processor.sampleRate)
	}
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name       string
		threshold  float32
		windowSize int
		sampleRate int
		expectErr  bool
	}{
		{name: "valid parameters", threshold: 0.5, windowSize: 512, sampleRate: 8000},
		{name: "threshold too low", threshold: -0.1, windowSize: 512, sampleRate: 8000, expectErr: true},
		{name: "threshold too high", threshold: 1.1, windowSize: 512, sampleRate: 8000, expectErr: true},
		{name: "zero window size", threshold: 0.5, windowSize: 0, sampleRate: 8000, expectErr: true},
		{name: "negative sample rate", threshold: 0.5, windowSize: 512, sampleRate: -1, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.threshold, tt.windowSize, tt.sampleRate)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestNewDefaultProcessor(t *testing.T) {
	processor, err := NewDefaultProcessor(16000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}
	if processor.GetWindowSize() != 480 {
		t.Errorf("Expected 30ms window of 480 samples, got %d", processor.GetWindowSize())
	}
	if processor.GetThreshold() != DefaultThreshold {
		t.Errorf("Expected default threshold, got %f", processor.GetThreshold())
	}

	if _, err := NewDefaultProcessor(0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestProcessWrongSampleCount(t *testing.T) {
	processor, err := NewProcessor(0.5, 512, 8000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	if _, err := processor.Process(make([]int16, 256)); err == nil {
		t.Error("Expected error for wrong sample count")
	}
}

func TestVoiceActivityDetection(t *testing.T) {
	tests := []struct {
		name        string
		samples     []int16
		expectVoice bool
	}{
		{name: "silence", samples: make([]int16, 512), expectVoice: false},
		{name: "high energy", samples: constantSamples(512, 8000), expectVoice: true},
		{name: "low energy", samples: constantSamples(512, 100), expectVoice: false},
		{
			name: "alternating pattern",
			samples: func() []int16 {
				samples := make([]int16, 512)
				for i := range samples {
					if i%2 == 0 {
						samples[i] = 5000
					} else {
						samples[i] = -5000
					}
				}
				return samples
			}(),
			expectVoice: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Fresh processor so smoothing does not carry over
			processor, err := NewProcessor(0.3, 512, 8000)
			if err != nil {
				t.Fatalf("Failed to create processor: %v", err)
			}

			result, err := processor.Process(tt.samples)
			if err != nil {
				t.Fatalf("Failed to process: %v", err)
			}

			if result.HasVoice != tt.expectVoice {
				t.Errorf("Expected voice=%v, got %v (probability %.3f)", tt.expectVoice, result.HasVoice, result.Probability)
			}
			if result.Probability < 0 || result.Probability > 1 {
				t.Errorf("Invalid probability: %f", result.Probability)
			}
			if result.Confidence < 0 || result.Confidence > 1 {
				t.Errorf("Invalid confidence: %f", result.Confidence)
			}
			if result.WindowIndex != 0 {
				t.Errorf("Expected window index 0, got %d", result.WindowIndex)
			}
		})
	}
}

func TestProcessorStats(t *testing.T) {
	processor, err := NewProcessor(0.2, 512, 8000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	loud := constantSamples(512, 8000)
	silence := make([]int16, 512)

	for i := 0; i < 10; i++ {
		if i < 5 {
			processor.Process(loud)
		} else {
			processor.Process(silence)
		}
	}

	stats := processor.GetStats()

	if stats.TotalWindows != 10 {
		t.Errorf("Expected 10 total windows, got %d", stats.TotalWindows)
	}

	if stats.Threshold != 0.2 {
		t.Errorf("Expected threshold 0.2, got %f", stats.Threshold)
	}

	// 5 loud windows plus a decaying tail of 0.4, 0.2 above the threshold
	if stats.VoiceWindows != 7 {
		t.Errorf("Expected 7 voice windows, got %d", stats.VoiceWindows)
	}

	if math.Abs(stats.VoicePercentage-70) > 0.001 {
		t.Errorf("Expected 70%% voice, got %f", stats.VoicePercentage)
	}
}

func TestUpdateThreshold(t *testing.T) {
	processor, err := NewProcessor(0.5, 512, 8000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	if err := processor.UpdateThreshold(0.7); err != nil {
		t.Errorf("Failed to update threshold: %v", err)
	}

	if processor.GetThreshold() != 0.7 {
		t.Errorf("Expected threshold 0.7, got %f", processor.GetThreshold())
	}

	if err := processor.UpdateThreshold(-0.1); err == nil {
		t.Error("Expected error for negative threshold")
	}

	if err := processor.UpdateThreshold(1.1); err == nil {
		t.Error("Expected error for threshold > 1")
	}

	// Threshold should remain unchanged after invalid update
	if processor.GetThreshold() != 0.7 {
		t.Errorf("Threshold changed after invalid update: %f", processor.GetThreshold())
	}
}

func TestProcessorReset(t *testing.T) {
	processor, err := NewProcessor(0.5, 512, 8000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	for i := 0; i < 5; i++ {
		processor.Process(constantSamples(512, 8000))
	}

	processor.Reset()

	stats := processor.GetStats()
	if stats.TotalWindows != 0 || stats.VoiceWindows != 0 {
		t.Errorf("Expected zeroed stats after reset, got %+v", stats)
	}

	// No smoothing carry-over after reset
	result, err := processor.Process(make([]int16, 512))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Probability != 0 {
		t.Errorf("Expected zero probability after reset, got %f", result.Probability)
	}
}

func TestSegments(t *testing.T) {
	processor, err := NewDefaultProcessor(16000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	// 480ms silence, 480ms tone, 480ms silence
	samples := make([]int16, 0, 3*7680)
	samples = append(samples, make([]int16, 7680)...)
	samples = append(samples, constantSamples(7680, 5000)...)
	samples = append(samples, make([]int16, 7680)...)

	segments, err := processor.Segments(samples)
	if err != nil {
		t.Fatalf("Segments failed: %v", err)
	}

	if len(segments) != 1 {
		t.Fatalf("Expected one segment, got %d: %+v", len(segments), segments)
	}

	seg := segments[0]
	if seg.Start != 480*time.Millisecond {
		t.Errorf("Expected segment to start at 480ms, got %v", seg.Start)
	}
	// The smoothed tail may extend past the tone by a few windows
	if seg.End < 960*time.Millisecond || seg.End > 1100*time.Millisecond {
		t.Errorf("Expected segment to end near 960ms, got %v", seg.End)
	}
	if seg.Duration() <= 0 {
		t.Errorf("Expected positive duration, got %v", seg.Duration())
	}
	if seg.Confidence <= 0 || seg.Confidence > 1 {
		t.Errorf("Invalid confidence: %f", seg.Confidence)
	}
}

func TestSegmentsSilenceAndTrailingVoice(t *testing.T) {
	processor, err := NewDefaultProcessor(16000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	silent, err := processor.Segments(make([]int16, 16000))
	if err != nil {
		t.Fatalf("Segments failed: %v", err)
	}
	if len(silent) != 0 {
		t.Errorf("Expected no segments in silence, got %+v", silent)
	}

	// Voice until the end closes at the last full window
	samples := append(make([]int16, 4800), constantSamples(4800+100, 6000)...)
	segments, err := processor.Segments(samples)
	if err != nil {
		t.Fatalf("Segments failed: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("Expected one segment, got %+v", segments)
	}
	if segments[0].Start != 300*time.Millisecond || segments[0].End != 600*time.Millisecond {
		t.Errorf("Expected 300ms-600ms, got %v-%v", segments[0].Start, segments[0].End)
	}
}

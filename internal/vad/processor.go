package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	// DefaultThreshold matches an RMS of roughly 500 on the 16-bit scale
	DefaultThreshold = 0.05

	// DefaultWindow is the analysis window length
	DefaultWindow = 30 * time.Millisecond

	// energyScale maps RMS to a 0-1 probability (speech rarely exceeds it)
	energyScale = 10000.0
)

// Processor provides energy-based voice activity detection over PCM-16 windows
type Processor struct {
	threshold  float32
	windowSize int // Samples per window
	sampleRate int

	// VAD state
	lastResult float32
	smoothing  float32 // Weight of the newest window

	// Statistics
	totalWindows uint64
	voiceWindows uint64

	mu sync.RWMutex
}

// VADResult represents the result of voice activity detection
type VADResult struct {
	Probability float32 `json:"probability"` // Voice probability (0.0 - 1.0)
	HasVoice    bool    `json:"has_voice"`   // Whether voice was detected
	Confidence  float32 `json:"confidence"`  // Confidence in the result
	WindowIndex int     `json:"window_index"`
}

// VoiceSegment represents a continuous span of voice activity within a recording
type VoiceSegment struct {
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float32       `json:"confidence"` // Average confidence for the segment
}

// Duration returns the length of the segment
func (s VoiceSegment) Duration() time.Duration {
	return s.End - s.Start
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalWindows    uint64  `json:"total_windows"`
	VoiceWindows    uint64  `json:"voice_windows"`
	VoicePercentage float64 `json:"voice_percentage"`
	Threshold       float32 `json:"threshold"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(threshold float32, windowSize int, sampleRate int) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Processor{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
		smoothing:  0.5,
	}, nil
}

// NewDefaultProcessor creates a processor with the default threshold and window
func NewDefaultProcessor(sampleRate int) (*Processor, error) {
	windowSize := int(int64(sampleRate) * int64(DefaultWindow) / int64(time.Second))
	if windowSize <= 0 {
		windowSize = 1
	}
	return NewProcessor(DefaultThreshold, windowSize, sampleRate)
}

// Process processes a window of audio samples and returns voice activity probability
func (p *Processor) Process(samples []int16) (*VADResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.processLocked(samples)
}

func (p *Processor) processLocked(samples []int16) (*VADResult, error) {
	if len(samples) != p.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", p.windowSize, len(samples))
	}

	probability := windowProbability(samples)

	// Apply smoothing
	if p.totalWindows > 0 {
		probability = p.smoothing*probability + (1-p.smoothing)*p.lastResult
	}
	p.lastResult = probability

	hasVoice := probability >= p.threshold

	p.totalWindows++
	if hasVoice {
		p.voiceWindows++
	}

	// Calculate confidence (higher when probability is far from threshold)
	confidence := float32(math.Abs(float64(probability - p.threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}
	confidence = confidence * 2 // Scale to 0-1

	return &VADResult{
		Probability: probability,
		HasVoice:    hasVoice,
		Confidence:  confidence,
		WindowIndex: int(p.totalWindows - 1),
	}, nil
}

// windowProbability maps the RMS energy of a window to [0, 1]
func windowProbability(samples []int16) float32 {
	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	energy = math.Sqrt(energy / float64(len(samples)))

	normalized := energy / energyScale
	if normalized > 1.0 {
		normalized = 1.0
	}
	return float32(normalized)
}

// Segments resets the processor and returns the voice spans of a whole recording.
// A trailing partial window is ignored.
func (p *Processor) Segments(samples []int16) ([]VoiceSegment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked()

	segments := make([]VoiceSegment, 0)
	var current *VoiceSegment
	var confidenceSum float32
	var windows int

	for offset := 0; offset+p.windowSize <= len(samples); offset += p.windowSize {
		result, err := p.processLocked(samples[offset : offset+p.windowSize])
		if err != nil {
			return nil, fmt.Errorf("failed to process window at sample %d: %w", offset, err)
		}

		if result.HasVoice {
			if current == nil {
				// Start new voice segment
				current = &VoiceSegment{Start: p.offsetDuration(offset)}
				confidenceSum, windows = 0, 0
			}
			confidenceSum += result.Confidence
			windows++
			continue
		}

		if current != nil {
			// End current voice segment
			current.End = p.offsetDuration(offset)
			current.Confidence = confidenceSum / float32(windows)
			segments = append(segments, *current)
			current = nil
		}
	}

	// Close any remaining segment
	if current != nil {
		current.End = p.offsetDuration(int(p.totalWindows) * p.windowSize)
		current.Confidence = confidenceSum / float32(windows)
		segments = append(segments, *current)
	}

	return segments, nil
}

func (p *Processor) offsetDuration(sample int) time.Duration {
	return time.Duration(int64(sample) * int64(time.Second) / int64(p.sampleRate))
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		Threshold:       p.threshold,
	}
}

// UpdateThreshold updates the voice detection threshold
func (p *Processor) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.threshold = threshold
	return nil
}

// Reset resets the processor state and statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Processor) resetLocked() {
	p.totalWindows = 0
	p.voiceWindows = 0
	p.lastResult = 0
}

// GetThreshold returns the current voice detection threshold
func (p *Processor) GetThreshold() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// GetWindowSize returns the window size in samples
func (p *Processor) GetWindowSize() int {
	return p.windowSize
}

package capture

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"

	"github.com/skypro1111/nextgen-voice/internal/recorder"
)

// PeakMeter is a visualizer that tracks signal peaks and logs them.
// In PCM mode it reads s16le samples; otherwise it only counts bytes.
type PeakMeter struct {
	mode        recorder.VisualizerMode
	pcm         bool
	logger      *slog.Logger
	reportEvery int

	mu         sync.Mutex
	total      int64
	sinceLast  int
	peak       float64
	windowPeak float64
	carry      []byte
	closed     bool
}

// NewPeakMeterFactory returns a visualizer factory for a session.
// pcmRecord tells whether the capture engine streams s16le PCM to the monitor.
func NewPeakMeterFactory(pcmRecord bool, reportEvery int, logger *slog.Logger) recorder.VisualizerFactory {
	return func(mode recorder.VisualizerMode) (recorder.Visualizer, error) {
		return NewPeakMeter(mode, pcmRecord && mode == recorder.ModeRecord, reportEvery, logger), nil
	}
}

func NewPeakMeter(mode recorder.VisualizerMode, pcm bool, reportEvery int, logger *slog.Logger) *PeakMeter {
	if reportEvery <= 0 {
		reportEvery = 96000 // one second of 48kHz mono s16le
	}
	return &PeakMeter{mode: mode, pcm: pcm, reportEvery: reportEvery, logger: logger}
}

func (m *PeakMeter) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return len(p), nil
	}
	m.total += int64(len(p))
	m.sinceLast += len(p)

	if m.pcm {
		data := p
		if len(m.carry) > 0 {
			data = append(m.carry, p...)
			m.carry = nil
		}
		for i := 0; i+1 < len(data); i += 2 {
			v := math.Abs(float64(int16(binary.LittleEndian.Uint16(data[i:])))) / 32768
			if v > m.windowPeak {
				m.windowPeak = v
			}
		}
		if len(data)%2 == 1 {
			m.carry = []byte{data[len(data)-1]}
		}
	}

	if m.sinceLast >= m.reportEvery {
		m.report()
	}
	return len(p), nil
}

func (m *PeakMeter) report() {
	if m.windowPeak > m.peak {
		m.peak = m.windowPeak
	}
	attrs := []any{
		slog.String("mode", m.mode.String()),
		slog.Int64("bytes", m.total),
	}
	if m.pcm {
		attrs = append(attrs, slog.Float64("level_dbfs", dbfs(m.windowPeak)))
	}
	m.logger.Debug("Audio level", attrs...)
	m.sinceLast = 0
	m.windowPeak = 0
}

// Peak returns the highest absolute sample seen so far in [0, 1]
func (m *PeakMeter) Peak() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return math.Max(m.peak, m.windowPeak)
}

// Bytes returns the number of bytes written
func (m *PeakMeter) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *PeakMeter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.windowPeak > m.peak {
		m.peak = m.windowPeak
	}

	attrs := []any{
		slog.String("mode", m.mode.String()),
		slog.Int64("bytes", m.total),
	}
	if m.pcm {
		attrs = append(attrs, slog.Float64("peak_dbfs", dbfs(m.peak)))
	}
	m.logger.Info("Visualizer released", attrs...)
	return nil
}

// dbfs converts a peak to decibels relative to full scale, floored at silence
func dbfs(peak float64) float64 {
	if peak <= 0 {
		return silenceDBFS
	}
	return math.Max(20*math.Log10(peak), silenceDBFS)
}

const silenceDBFS = -96.0

// Package metrics defines the Prometheus instruments for the relay and the transcription client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice relay and its clients
type Metrics struct {
	// Relay job metrics
	JobsQueued     prometheus.Counter
	JobsCompleted  prometheus.Counter
	JobsFailed     prometheus.Counter
	JobsRejected   prometheus.Counter
	QueueDepth     prometheus.Gauge
	ActiveWorkers  prometheus.Gauge
	EngineDuration prometheus.Histogram
	UploadSize     prometheus.Histogram

	// Client upload metrics
	UploadRequests  prometheus.Counter
	UploadSuccesses prometheus.Counter
	UploadFailures  *prometheus.CounterVec
	UploadDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on promhttp.Handler.
// Every Record method is a no-op on a nil *Metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Relay job metrics
		JobsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "nextgen_relay_jobs_queued_total",
			Help: "Total number of transcription jobs accepted into the queue",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "nextgen_relay_jobs_completed_total",
			Help: "Total number of transcription jobs that produced a result",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "nextgen_relay_jobs_failed_total",
			Help: "Total number of transcription jobs that failed in the engine",
		}),
		JobsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "nextgen_relay_jobs_rejected_total",
			Help: "Total number of transcription jobs rejected because the queue was full",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nextgen_relay_queue_depth",
			Help: "Current number of jobs waiting for a worker",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nextgen_relay_active_workers",
			Help: "Current number of workers running the transcription engine",
		}),
		EngineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nextgen_relay_engine_duration_seconds",
			Help:    "Wall time of transcription engine subprocesses",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		UploadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nextgen_relay_upload_size_bytes",
			Help:    "Size of uploaded audio files in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
		}),

		// Client upload metrics
		UploadRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "nextgen_client_uploads_total",
			Help: "Total number of audio uploads sent to the relay",
		}),
		UploadSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "nextgen_client_upload_successes_total",
			Help: "Total number of uploads that returned a transcription",
		}),
		UploadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nextgen_client_upload_failures_total",
			Help: "Total number of failed uploads by error kind",
		}, []string{"kind"}),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nextgen_client_upload_duration_seconds",
			Help:    "Round-trip duration of uploads to the relay",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3 minutes
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nextgen_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nextgen_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nextgen_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordJobQueued increments the queued jobs counter
func (m *Metrics) RecordJobQueued() {
	if m == nil {
		return
	}
	m.JobsQueued.Inc()
}

// RecordJobRejected increments the rejected jobs counter
func (m *Metrics) RecordJobRejected() {
	if m == nil {
		return
	}
	m.JobsRejected.Inc()
}

// RecordJobFinished records the outcome and engine time of a job
func (m *Metrics) RecordJobFinished(success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	if success {
		m.JobsCompleted.Inc()
	} else {
		m.JobsFailed.Inc()
	}
	m.EngineDuration.Observe(durationSeconds)
}

// SetQueueDepth sets the current queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// WorkerBusy adjusts the active workers gauge
func (m *Metrics) WorkerBusy(busy bool) {
	if m == nil {
		return
	}
	if busy {
		m.ActiveWorkers.Inc()
	} else {
		m.ActiveWorkers.Dec()
	}
}

// RecordUploadSize observes the size of an uploaded file
func (m *Metrics) RecordUploadSize(sizeBytes int64) {
	if m == nil {
		return
	}
	m.UploadSize.Observe(float64(sizeBytes))
}

// RecordClientUpload records a client upload attempt outcome.
// kind is empty on success.
func (m *Metrics) RecordClientUpload(kind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.UploadRequests.Inc()
	m.UploadDuration.Observe(durationSeconds)
	if kind == "" {
		m.UploadSuccesses.Inc()
		return
	}
	m.UploadFailures.WithLabelValues(kind).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

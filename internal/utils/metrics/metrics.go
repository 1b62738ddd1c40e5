package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Task metrics
	TasksSubmittedTotal   *prometheus.CounterVec
	TasksProcessedTotal   *prometheus.CounterVec
	TaskProcessingSeconds *prometheus.HistogramVec
	QueueDepth            *prometheus.GaugeVec

	// Synthesis metrics
	SynthesisDuration *prometheus.HistogramVec
	AudioSecondsTotal prometheus.Counter

	// Callback metrics
	CallbacksTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tts"
	}

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Task metrics
		TasksSubmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "submitted_total",
				Help:      "Total number of tasks submitted",
			},
			[]string{"type"}, // online, long_text
		),
		TasksProcessedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "processed_total",
				Help:      "Total number of tasks reaching a terminal state",
			},
			[]string{"status"}, // completed, failed
		),
		TaskProcessingSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "processing_duration_seconds",
				Help:      "Task processing duration from claim to terminal state",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Number of tasks waiting in the queue",
			},
			[]string{"queue"},
		),

		// Synthesis metrics
		SynthesisDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "synthesis",
				Name:      "duration_seconds",
				Help:      "Engine synthesis duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"voice"},
		),
		AudioSecondsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "synthesis",
				Name:      "audio_seconds_total",
				Help:      "Total seconds of audio generated",
			},
		),

		// Callback metrics
		CallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "callbacks",
				Name:      "total",
				Help:      "Total number of callback delivery attempts",
			},
			[]string{"result"}, // delivered, failed
		),

		// Cache metrics
		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),
	}
}

// --- Convenience methods ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := statusCodeToString(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTaskSubmitted records a task submission.
func (m *Metrics) RecordTaskSubmitted(taskType string) {
	m.TasksSubmittedTotal.WithLabelValues(taskType).Inc()
}

// RecordTaskProcessed records a task reaching a terminal state.
func (m *Metrics) RecordTaskProcessed(status string, duration time.Duration) {
	m.TasksProcessedTotal.WithLabelValues(status).Inc()
	m.TaskProcessingSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// SetQueueDepth sets the current queue depth.
func (m *Metrics) SetQueueDepth(queue string, depth int64) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordSynthesis records an engine synthesis call.
func (m *Metrics) RecordSynthesis(voice string, duration time.Duration, audioSeconds float64) {
	m.SynthesisDuration.WithLabelValues(voice).Observe(duration.Seconds())
	if audioSeconds > 0 {
		m.AudioSecondsTotal.Add(audioSeconds)
	}
}

// RecordCallback records a callback delivery attempt.
func (m *Metrics) RecordCallback(delivered bool) {
	result := "failed"
	if delivered {
		result = "delivered"
	}
	m.CallbacksTotal.WithLabelValues(result).Inc()
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cache string) {
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cache string) {
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

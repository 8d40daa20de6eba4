// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicerelay"

// Metrics contains all Prometheus metrics for the relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Updates               *prometheus.CounterVec
	Transcriptions        *prometheus.CounterVec
	TranscriptionDuration *prometheus.HistogramVec
	CloudAttempts         *prometheus.CounterVec
	AudioBytes            prometheus.Histogram
	HTTPRequests          *prometheus.CounterVec
}

// New creates the metrics on a private registry, together with Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Updates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Webhook updates handled, by outcome",
		}, []string{"outcome"}),
		Transcriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcription calls, by provider and result (ok, empty, error)",
		}, []string{"provider", "result"}),
		TranscriptionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_seconds",
			Help:      "Time spent in the STT provider",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}, []string{"provider"}),
		CloudAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cloud_attempts_total",
			Help:      "Cloud model attempts, by model and result (ok, empty, error)",
		}, []string{"model", "result"}),
		AudioBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_bytes",
			Help:      "Size of downloaded voice files",
			Buckets:   prometheus.ExponentialBuckets(4096, 4, 8),
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by path and status code",
		}, []string{"path", "status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry (used by tests and extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveUpdate counts a handled webhook update.
func (m *Metrics) ObserveUpdate(outcome string) {
	if m == nil {
		return
	}
	m.Updates.WithLabelValues(outcome).Inc()
}

// ObserveTranscription records a provider call.
func (m *Metrics) ObserveTranscription(provider, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Transcriptions.WithLabelValues(provider, result).Inc()
	m.TranscriptionDuration.WithLabelValues(provider).Observe(took.Seconds())
}

// ObserveCloudAttempt records one cloud model attempt.
func (m *Metrics) ObserveCloudAttempt(model, result string) {
	if m == nil {
		return
	}
	m.CloudAttempts.WithLabelValues(model, result).Inc()
}

// ObserveAudio records the size of a downloaded voice file.
func (m *Metrics) ObserveAudio(n int) {
	if m == nil {
		return
	}
	m.AudioBytes.Observe(float64(n))
}

// ObserveHTTP counts an HTTP request.
func (m *Metrics) ObserveHTTP(path string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(path, strconv.Itoa(status)).Inc()
}

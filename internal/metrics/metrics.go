// Package metrics groups the Prometheus instruments used by the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "natal_chart"

// Metrics holds every instrument. Each instance owns its registry so tests
// and multiple servers in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	DialogueOutcomes  *prometheus.CounterVec
	PipelineRuns      *prometheus.CounterVec
	AdapterErrors     *prometheus.CounterVec
	GenerationLatency *prometheus.HistogramVec
	PipelineLatency   prometheus.Histogram
	ChatMessages      *prometheus.CounterVec
}

// New creates the instruments on a fresh registry, including the Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DialogueOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialogue_outcomes_total",
			Help:      "Finished dialogues by outcome.",
		}, []string{"outcome"}),
		PipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Chart pipeline runs by result.",
		}, []string{"result"}),
		AdapterErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_errors_total",
			Help:      "External adapter errors by adapter and kind.",
		}, []string{"adapter", "kind"}),
		GenerationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_seconds",
			Help:      "Text generation latency in seconds.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 60, 120, 180},
		}, []string{"result"}),
		PipelineLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_latency_seconds",
			Help:      "End-to-end chart pipeline latency in seconds.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 60, 120, 180, 240},
		}),
		ChatMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat socket messages by direction and type.",
		}, []string{"direction", "type"}),
	}
}

// RegisterGauge exposes a value sampled on every scrape.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// DialogueFinished counts a finished dialogue.
func (m *Metrics) DialogueFinished(outcome string) {
	m.DialogueOutcomes.WithLabelValues(outcome).Inc()
}

// RunFinished counts a pipeline run and records its duration.
func (m *Metrics) RunFinished(result string, elapsed time.Duration) {
	m.PipelineRuns.WithLabelValues(result).Inc()
	m.PipelineLatency.Observe(elapsed.Seconds())
}

// AdapterError counts an external adapter failure.
func (m *Metrics) AdapterError(adapter, kind string) {
	m.AdapterErrors.WithLabelValues(adapter, kind).Inc()
}

// GenerationFinished records a generation call.
func (m *Metrics) GenerationFinished(result string, elapsed time.Duration) {
	m.GenerationLatency.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ChatMessage counts a chat socket message.
func (m *Metrics) ChatMessage(direction, msgType string) {
	m.ChatMessages.WithLabelValues(direction, msgType).Inc()
}

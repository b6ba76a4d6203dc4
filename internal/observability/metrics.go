package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsClient is the metrics interface every component depends on,
// trimmed from the teacher's pkg/observability.MetricsClient to the
// counter/gauge/histogram/timer shapes this module exercises.
type MetricsClient interface {
	IncrementCounter(name string, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordDuration(name string, duration time.Duration, labels map[string]string)
	StartTimer(name string, labels map[string]string) func()
}

// PrometheusMetricsClient implements MetricsClient with lazily
// registered collectors under a fixed namespace/subsystem, ported
// from the teacher's pkg/observability/prometheus_metrics.go.
type PrometheusMetricsClient struct {
	namespace string
	subsystem string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registerer prometheus.Registerer
}

// NewPrometheusMetricsClient creates a metrics client registered
// against the given registerer (use prometheus.DefaultRegisterer in
// production, a fresh prometheus.NewRegistry() in tests).
func NewPrometheusMetricsClient(namespace, subsystem string, reg prometheus.Registerer) *PrometheusMetricsClient {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetricsClient{
		namespace:  namespace,
		subsystem:  subsystem,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registerer: reg,
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (m *PrometheusMetricsClient) counterFor(name string, labels map[string]string) *prometheus.CounterVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c := promauto.With(m.registerer).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
	}, labelNames(labels))
	m.counters[name] = c
	return c
}

func (m *PrometheusMetricsClient) gaugeFor(name string, labels map[string]string) *prometheus.GaugeVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gauges[name]; ok {
		return g
	}
	g := promauto.With(m.registerer).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
	}, labelNames(labels))
	m.gauges[name] = g
	return g
}

func (m *PrometheusMetricsClient) histogramFor(name string, labels map[string]string) *prometheus.HistogramVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h := promauto.With(m.registerer).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Buckets:   prometheus.DefBuckets,
	}, labelNames(labels))
	m.histograms[name] = h
	return h
}

func (m *PrometheusMetricsClient) IncrementCounter(name string, labels map[string]string) {
	m.counterFor(name, labels).With(labels).Inc()
}

func (m *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	m.gaugeFor(name, labels).With(labels).Set(value)
}

func (m *PrometheusMetricsClient) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	m.histogramFor(name, labels).With(labels).Observe(duration.Seconds())
}

func (m *PrometheusMetricsClient) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		m.RecordDuration(name, time.Since(start), labels)
	}
}

// NopMetricsClient discards everything; used in tests.
type NopMetricsClient struct{}

func (NopMetricsClient) IncrementCounter(string, map[string]string)            {}
func (NopMetricsClient) RecordGauge(string, float64, map[string]string)       {}
func (NopMetricsClient) RecordDuration(string, time.Duration, map[string]string) {}
func (NopMetricsClient) StartTimer(string, map[string]string) func()          { return func() {} }

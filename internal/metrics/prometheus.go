package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oarkflow/smpp34/pkg/smpp"
)

// PrometheusMetricsCollector implements smpp.MetricsCollector using Prometheus
type PrometheusMetricsCollector struct {
	registry *prometheus.Registry

	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labels     map[string][]string

	server *http.Server
}

// NewPrometheusMetricsCollector registers the engine metrics under namespace
// on a private registry.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "smpp"
	}
	pmc := &PrometheusMetricsCollector{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labels:     make(map[string][]string),
	}

	pmc.counter(namespace, smpp.MetricPDUsSent, "pdus_sent_total", "PDUs written, by command", "command")
	pmc.counter(namespace, smpp.MetricPDUsReceived, "pdus_received_total", "PDUs read, by command", "command")
	pmc.counter(namespace, smpp.MetricGenericNacks, "generic_nacks_total", "GENERIC_NACKs sent, by status", "status")
	pmc.counter(namespace, smpp.MetricBinds, "binds_total", "Bind attempts, by response status", "status")
	pmc.counter(namespace, smpp.MetricKeepAliveFailures, "keepalive_failures_total", "Sessions dropped after an unanswered enquire_link")
	pmc.counter(namespace, smpp.MetricMessages, "messages_total", "Messages handled, by direction and result", "direction", "result")

	pmc.gauge(namespace, smpp.MetricConnections, "connections", "Open connections")
	pmc.gauge(namespace, smpp.MetricBoundSessions, "bound_sessions", "Bound sessions")

	pmc.histogram(namespace, smpp.MetricRequestDuration, "request_duration_seconds", "Request round trip, by command and result",
		[]float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 40}, "command", "result")

	return pmc
}

func (p *PrometheusMetricsCollector) counter(namespace, key, name, help string, labels ...string) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	p.registry.MustRegister(vec)
	p.counters[key] = vec
	p.labels[key] = labels
}

func (p *PrometheusMetricsCollector) gauge(namespace, key, name, help string, labels ...string) {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	p.registry.MustRegister(vec)
	p.gauges[key] = vec
	p.labels[key] = labels
}

func (p *PrometheusMetricsCollector) histogram(namespace, key, name, help string, buckets []float64, labels ...string) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	p.registry.MustRegister(vec)
	p.histograms[key] = vec
	p.labels[key] = labels
}

// values orders labels by the metric's declared names. Missing labels are
// empty and unknown ones are dropped.
func (p *PrometheusMetricsCollector) values(name string, labels map[string]string) []string {
	names := p.labels[name]
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = labels[n]
	}
	return out
}

// IncCounter increments a counter metric. Unknown names are ignored.
func (p *PrometheusMetricsCollector) IncCounter(name string, labels map[string]string) {
	if vec, ok := p.counters[name]; ok {
		vec.WithLabelValues(p.values(name, labels)...).Inc()
	}
}

// SetGauge sets a gauge metric
func (p *PrometheusMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	if vec, ok := p.gauges[name]; ok {
		vec.WithLabelValues(p.values(name, labels)...).Set(value)
	}
}

// ObserveHistogram observes a value for a histogram metric
func (p *PrometheusMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	if vec, ok := p.histograms[name]; ok {
		vec.WithLabelValues(p.values(name, labels)...).Observe(value)
	}
}

// RecordDuration records a duration in seconds
func (p *PrometheusMetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	p.ObserveHistogram(name, duration.Seconds(), labels)
}

// Registry returns the registry holding the engine metrics
func (p *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format
func (p *PrometheusMetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes Handler on port at path until ctx ends
func (p *PrometheusMetricsCollector) Serve(ctx context.Context, port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, p.Handler())

	p.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.server.Shutdown(shutdownCtx)
	}
}

// NoOpMetricsCollector provides a no-op implementation for when metrics are disabled
type NoOpMetricsCollector struct{}

// NewNoOpMetricsCollector creates a no-op metrics collector
func NewNoOpMetricsCollector() *NoOpMetricsCollector {
	return &NoOpMetricsCollector{}
}

// IncCounter is a no-op
func (n *NoOpMetricsCollector) IncCounter(name string, labels map[string]string) {}

// SetGauge is a no-op
func (n *NoOpMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {}

// ObserveHistogram is a no-op
func (n *NoOpMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
}

// RecordDuration is a no-op
func (n *NoOpMetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
}

var (
	_ smpp.MetricsCollector = (*PrometheusMetricsCollector)(nil)
	_ smpp.MetricsCollector = (*NoOpMetricsCollector)(nil)
)

package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nuetzliches/sbinspect/internal/inspector"
)

const metricsNamespace = "sbinspect"

// runtimeMetrics lives on its own registry so tests can build any number
// of them without colliding on the default one.
type runtimeMetrics struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	connected         prometheus.Gauge
	messagesSent      prometheus.Counter
	messagesReceived  prometheus.Counter
	httpRequests      *prometheus.CounterVec
	tracingEnabled    prometheus.Gauge
	tracingExportErrs prometheus.Counter
	scenarioReloads   *prometheus.CounterVec
}

func newRuntimeMetrics() *runtimeMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &runtimeMetrics{
		registry: reg,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Inspector operations by outcome.",
		}, []string{"operation", "outcome"}),
		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Inspector operation latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"operation"}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected",
			Help:      "1 while a Service Bus connection is active.",
		}),
		messagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Messages sent to Service Bus.",
		}),
		messagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Messages received and completed.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route pattern and status code.",
		}, []string{"route", "code"}),
		tracingEnabled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "tracing",
			Name:      "enabled",
			Help:      "1 when OTLP tracing export is configured.",
		}),
		tracingExportErrs: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "tracing",
			Name:      "export_errors_total",
			Help:      "Errors reported by the OpenTelemetry SDK.",
		}),
		scenarioReloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scenarios",
			Name:      "reloads_total",
			Help:      "Scenario file reloads by result.",
		}, []string{"result"}),
	}
}

func (m *runtimeMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *runtimeMetrics) observeOperation(op, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(op, outcome).Inc()
	m.operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *runtimeMetrics) observeConnection(_ inspector.ConnectionInfo, connected bool) {
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *runtimeMetrics) observeMessages(direction string, n int) {
	switch direction {
	case "sent":
		m.messagesSent.Add(float64(n))
	case "received":
		m.messagesReceived.Add(float64(n))
	}
}

func (m *runtimeMetrics) observeRequest(route string, statusCode int) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
}

func (m *runtimeMetrics) observeReload(ok bool) {
	if ok {
		m.scenarioReloads.WithLabelValues("ok").Inc()
		return
	}
	m.scenarioReloads.WithLabelValues("failed").Inc()
}

func (m *runtimeMetrics) setTracingEnabled(on bool) {
	if on {
		m.tracingEnabled.Set(1)
		return
	}
	m.tracingEnabled.Set(0)
}

func (m *runtimeMetrics) incTracingExportErrors() {
	m.tracingExportErrs.Inc()
}

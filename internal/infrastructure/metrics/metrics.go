// Package metrics provides Prometheus instrumentation for the agent.
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

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "iotdm"

// Metrics holds the agent's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	// Device-initiated requests
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	// Platform-initiated traffic
	InboundMessages *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec

	// Session state
	Managed         prometheus.Gauge
	FirmwareState   prometheus.Gauge
	FirmwareResult  prometheus.Gauge
	PendingRequests prometheus.Gauge
}

// New registers the agent collectors on a fresh registry, together with the
// Go runtime and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Device-initiated requests by kind and return code",
			},
			[]string{"kind", "rc"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from publish to response for device-initiated requests",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		RequestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_errors_total",
				Help:      "Device-initiated requests that ended without success",
			},
			[]string{"kind", "reason"},
		),
		InboundMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_messages_total",
				Help:      "Messages received from the platform by category",
			},
			[]string{"category"},
		),
		PublishErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_errors_total",
				Help:      "Failed MQTT publishes by topic",
			},
			[]string{"topic"},
		),
		Managed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "managed",
			Help:      "1 while the platform has accepted the device as managed",
		}),
		FirmwareState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "firmware_state",
			Help:      "Firmware state (0=idle, 1=downloading, 2=downloaded, 3=updating)",
		}),
		FirmwareResult: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "firmware_update_status",
			Help:      "Result of the last firmware operation (0=success, 1=in progress, >=2 failure)",
		}),
		PendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Device-initiated requests awaiting a response",
		}),
	}
}

// ObserveRequest counts a finished request. reason is empty on success.
func (m *Metrics) ObserveRequest(kind string, rc int, elapsed time.Duration, reason string) {
	m.RequestsTotal.WithLabelValues(kind, strconv.Itoa(rc)).Inc()
	m.RequestDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if reason != "" {
		m.RequestErrors.WithLabelValues(kind, reason).Inc()
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

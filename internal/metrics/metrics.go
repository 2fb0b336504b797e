package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumaworks/pulse/internal/eventbus"
)

// Metrics holds the Prometheus collectors for the realtime fabric
type Metrics struct {
	registry *prometheus.Registry

	Connections      prometheus.Gauge
	EventsDelivered  *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
	Evictions        prometheus.Counter
	AuthRejections   prometheus.Counter
	InboundMessages  *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_connections",
			Help: "Number of live websocket connections.",
		}),
		EventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_events_delivered_total",
			Help: "Outbound envelopes delivered, by message type.",
		}, []string{"type"}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_delivery_failures_total",
			Help: "Envelope writes that failed and removed the connection.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_heartbeat_evictions_total",
			Help: "Connections evicted by the heartbeat monitor.",
		}),
		AuthRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_auth_rejections_total",
			Help: "Connection attempts rejected by the authentication gate.",
		}),
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_inbound_messages_total",
			Help: "Inbound envelopes received, by message type.",
		}, []string{"type"}),
	}

	registry.MustRegister(
		m.Connections,
		m.EventsDelivered,
		m.DeliveryFailures,
		m.Evictions,
		m.AuthRejections,
		m.InboundMessages,
	)

	return m
}

// Observe subscribes the lifecycle collectors to the event bus
func (m *Metrics) Observe(bus eventbus.Bus) {
	bus.Subscribe(eventbus.EventConnectionAdmitted, func(*eventbus.Event) {
		m.Connections.Inc()
	})
	bus.Subscribe(eventbus.EventConnectionClosed, func(*eventbus.Event) {
		m.Connections.Dec()
	})
	bus.Subscribe(eventbus.EventConnectionEvicted, func(*eventbus.Event) {
		m.Evictions.Inc()
	})
	bus.Subscribe(eventbus.EventAuthRejected, func(*eventbus.Event) {
		m.AuthRejections.Inc()
	})
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event names. They are exported as the `event` label of
// aero_signaling_relay_events_total.
const (
	AuthFailure          = "auth_failure"
	ConnectionAdmitted   = "connection_admitted"
	ConnectionClosed     = "connection_closed"
	TooManyConnections   = "too_many_connections"
	DroppedMalformed     = "dropped_malformed"
	DroppedUnknownType   = "dropped_unknown_type"
	RateLimited          = "rate_limited"
	SendQueueFull        = "send_queue_full"
	SendFailed           = "send_failed"
	SignalUndeliverable  = "signal_undeliverable"
	KeepaliveTimeout     = "keepalive_timeout"
	MessageTooLarge      = "message_too_large"
	OriginRejected       = "origin_rejected"
	DeliveriesSent       = "deliveries_sent"
	DeliveriesSkipped    = "deliveries_skipped"
	ICECredentialsIssued = "ice_credentials_issued"
)

const namespace = "aero_signaling_relay"

// Metrics owns a private Prometheus registry so that independent servers (and
// tests) never collide on the global default registerer.
//
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	reg *prometheus.Registry

	events      *prometheus.CounterVec
	connections prometheus.Gauge
	topics      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Internal event counters.",
			},
			[]string{"event"},
		),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Currently admitted signaling connections.",
		}),
		topics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topics",
			Help:      "Topics with at least one subscriber.",
		}),
	}
	m.reg.MustRegister(
		m.events,
		m.connections,
		m.topics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Inc(event string) {
	m.Add(event, 1)
}

func (m *Metrics) Add(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.events.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) SetTopics(n int) {
	if m == nil {
		return
	}
	m.topics.Set(float64(n))
}

// Events exposes the counter vector for inspection (primarily tests).
func (m *Metrics) Events() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.events
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

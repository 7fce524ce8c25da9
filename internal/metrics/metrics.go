// Package metrics holds the Prometheus collectors of the messaging core.
// A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	messagesAppended prometheus.Counter
	eventsPublished  *prometheus.CounterVec
	wsClients        prometheus.Gauge
	slowClientDrops  prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_messages_appended_total",
			Help: "Messages appended to conversation logs.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_events_published_total",
			Help: "Events published to the fan-out hub, by type.",
		}, []string{"type"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_ws_clients",
			Help: "Currently connected websocket clients.",
		}),
		slowClientDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_ws_slow_client_drops_total",
			Help: "Websocket clients disconnected because their send buffer was full.",
		}),
	}
	reg.MustRegister(m.messagesAppended, m.eventsPublished, m.wsClients, m.slowClientDrops)
	return m
}

func (m *Metrics) MessageAppended() {
	if m != nil {
		m.messagesAppended.Inc()
	}
}

func (m *Metrics) EventPublished(eventType string) {
	if m != nil {
		m.eventsPublished.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) ClientConnected() {
	if m != nil {
		m.wsClients.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.wsClients.Dec()
	}
}

func (m *Metrics) SlowClientDropped() {
	if m != nil {
		m.slowClientDrops.Inc()
	}
}

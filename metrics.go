package notifyws

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the channel collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	events            *prometheus.CounterVec
	listenerFaults    prometheus.Counter
	reconnectAttempts prometheus.Counter
	dropped           prometheus.Counter
	state             prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifyws_events_total",
				Help: "Events delivered to listeners, by kind",
			},
			[]string{"kind"},
		),
		listenerFaults: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notifyws_listener_faults_total",
				Help: "Listener invocations that panicked",
			},
		),
		reconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notifyws_reconnect_attempts_total",
				Help: "Reconnection attempts reported by the transport",
			},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notifyws_signals_dropped_total",
				Help: "Transport signals discarded because the transport was stale or not connected",
			},
		),
		state: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifyws_connection_state",
				Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed)",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.events, m.listenerFaults, m.reconnectAttempts, m.dropped, m.state} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) incEvent(kind EventKind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) incListenerFault() {
	if m == nil {
		return
	}
	m.listenerFaults.Inc()
}

func (m *Metrics) incReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) incDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) setState(s ConnectionState) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

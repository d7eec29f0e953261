package client

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the client's instrumentation. A nil *Metrics disables
// collection; every recording helper tolerates a nil receiver.
type Metrics struct {
	Connects        prometheus.Counter
	Reconnects      prometheus.Counter
	DroppedEmits    prometheus.Counter
	MalformedFrames prometheus.Counter
	FramesIn        *prometheus.CounterVec // by event name
	Reconciled      *prometheus.CounterVec // by outcome
}

// NewMetrics builds and registers the client metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "connects_total",
			Help:      "Successful websocket connections.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts after a lost connection.",
		}),
		DroppedEmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "dropped_emits_total",
			Help:      "Outbound events dropped because the session was not connected.",
		}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "malformed_frames_total",
			Help:      "Inbound frames dropped for missing required fields.",
		}),
		FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "frames_in_total",
			Help:      "Inbound frames by event name.",
		}, []string{"event"}),
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "reconciled_total",
			Help:      "Reconciled inbound messages by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Connects, m.Reconnects, m.DroppedEmits,
		m.MalformedFrames, m.FramesIn, m.Reconciled)
	return m
}

func (m *Metrics) connect() {
	if m != nil {
		m.Connects.Inc()
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) droppedEmit() {
	if m != nil {
		m.DroppedEmits.Inc()
	}
}

func (m *Metrics) malformed() {
	if m != nil {
		m.MalformedFrames.Inc()
	}
}

func (m *Metrics) frameIn(event string) {
	if m != nil {
		m.FramesIn.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) reconciled(action Action) {
	if m != nil {
		m.Reconciled.WithLabelValues(string(action)).Inc()
	}
}

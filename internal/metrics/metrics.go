package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wire"

// Metrics holds the daemon's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	socketConnects  *prometheus.CounterVec
	socketFailures  *prometheus.CounterVec
	socketConnected prometheus.Gauge
	eventsReceived  prometheus.Counter
	workRuns        *prometheus.CounterVec
	outboxSends     *prometheus.CounterVec
}

// New creates and registers every collector. droppedEvents, when non-nil,
// is exported as the bus drop counter.
func New(droppedEvents func() uint64) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		socketConnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "socket",
				Name:      "connects_total",
				Help:      "Websocket connection attempts by result.",
			},
			[]string{"result"},
		),
		socketFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "socket",
				Name:      "failures_total",
				Help:      "Websocket failures by kind (aborted, closed, error).",
			},
			[]string{"kind"},
		),
		socketConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "socket",
				Name:      "connected",
				Help:      "1 while the websocket is open.",
			},
		),
		eventsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Socket frames stored in the event inbox.",
			},
		),
		workRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "work",
				Name:      "runs_total",
				Help:      "Scheduled work executions by unique name and result.",
			},
			[]string{"name", "result"},
		),
		outboxSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "sends_total",
				Help:      "Outgoing messages by result.",
			},
			[]string{"result"},
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.socketConnects,
		m.socketFailures,
		m.socketConnected,
		m.eventsReceived,
		m.workRuns,
		m.outboxSends,
	)
	if droppedEvents != nil {
		m.Registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "dropped_events_total",
				Help:      "Bus deliveries skipped because a subscriber was full.",
			},
			func() float64 { return float64(droppedEvents()) },
		))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SocketConnect(ok bool) {
	if m == nil {
		return
	}
	m.socketConnects.WithLabelValues(resultLabel(ok)).Inc()
	if ok {
		m.socketConnected.Set(1)
	}
}

func (m *Metrics) SocketFailure(kind string) {
	if m == nil {
		return
	}
	m.socketFailures.WithLabelValues(kind).Inc()
	m.socketConnected.Set(0)
}

func (m *Metrics) SocketClosed() {
	if m == nil {
		return
	}
	m.socketConnected.Set(0)
}

func (m *Metrics) EventReceived() {
	if m == nil {
		return
	}
	m.eventsReceived.Inc()
}

func (m *Metrics) WorkRun(name, result string) {
	if m == nil {
		return
	}
	m.workRuns.WithLabelValues(name, result).Inc()
}

func (m *Metrics) OutboxSend(ok bool) {
	if m == nil {
		return
	}
	m.outboxSends.WithLabelValues(resultLabel(ok)).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

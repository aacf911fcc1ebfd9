package msgnet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by servers, clients and
// their connections. A nil *Metrics records nothing.
type Metrics struct {
	accepted     prometheus.Counter
	rejected     prometheus.Counter
	acceptErrors prometheus.Counter
	disconnects  prometheus.Counter
	active       prometheus.Gauge
	messages     *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	ioErrors     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of connections admitted by OnClientConnect",
		}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Total number of connections vetoed by OnClientConnect",
		}),
		acceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Total number of failed accepts",
		}),
		disconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total number of clients removed from the registry",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of open sockets",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of frames transferred",
		}, []string{"direction"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total number of bytes transferred, headers included",
		}, []string{"direction"}),
		ioErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "io_errors_total",
			Help:      "Total number of socket errors that closed a connection",
		}, []string{"op"}),
	}
}

func (m *Metrics) connAccepted() {
	if m != nil {
		m.accepted.Inc()
	}
}

func (m *Metrics) connRejected() {
	if m != nil {
		m.rejected.Inc()
	}
}

func (m *Metrics) acceptError() {
	if m != nil {
		m.acceptErrors.Inc()
	}
}

func (m *Metrics) clientDisconnected() {
	if m != nil {
		m.disconnects.Inc()
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.active.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.active.Dec()
	}
}

func (m *Metrics) messageIn(n int) {
	if m != nil {
		m.messages.WithLabelValues("in").Inc()
		m.bytes.WithLabelValues("in").Add(float64(n))
	}
}

func (m *Metrics) messageOut(n int) {
	if m != nil {
		m.messages.WithLabelValues("out").Inc()
		m.bytes.WithLabelValues("out").Add(float64(n))
	}
}

func (m *Metrics) ioError(op string) {
	if m != nil {
		m.ioErrors.WithLabelValues(op).Inc()
	}
}

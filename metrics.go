package gosling

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the optional Prometheus instrumentation a Context exposes.
// A nil registerer leaves every field as a working no-op collector that is
// simply never scraped, so callers that don't care about metrics never have
// to nil-check anything here.
type metrics struct {
	handshakesStarted   *prometheus.CounterVec
	handshakesCompleted *prometheus.CounterVec
	handshakesRejected  *prometheus.CounterVec
	handshakesFailed    *prometheus.CounterVec
	handlesInFlight     prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		handshakesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gosling",
			Name:      "handshakes_started_total",
			Help:      "Handshakes started, labeled by FSM kind.",
		}, []string{"fsm"}),
		handshakesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gosling",
			Name:      "handshakes_completed_total",
			Help:      "Handshakes that reached HandshakeCompleted, labeled by FSM kind.",
		}, []string{"fsm"}),
		handshakesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gosling",
			Name:      "handshakes_rejected_total",
			Help:      "Handshakes that reached HandshakeRejected, labeled by FSM kind.",
		}, []string{"fsm"}),
		handshakesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gosling",
			Name:      "handshakes_failed_total",
			Help:      "Handshakes that reached HandshakeFailed, labeled by FSM kind.",
		}, []string{"fsm"}),
		handlesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gosling",
			Name:      "handles_in_flight",
			Help:      "Number of handshake handles currently tracked by the Context.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.handshakesStarted, m.handshakesCompleted, m.handshakesRejected, m.handshakesFailed, m.handlesInFlight)
	}
	return m
}

func (m *metrics) started(fsm string)   { m.handshakesStarted.WithLabelValues(fsm).Inc() }
func (m *metrics) completed(fsm string) { m.handshakesCompleted.WithLabelValues(fsm).Inc() }
func (m *metrics) rejected(fsm string)  { m.handshakesRejected.WithLabelValues(fsm).Inc() }
func (m *metrics) failed(fsm string)    { m.handshakesFailed.WithLabelValues(fsm).Inc() }
func (m *metrics) setInFlight(n int)    { m.handlesInFlight.Set(float64(n)) }

const (
	fsmIdentityClient = "identity_client"
	fsmIdentityServer = "identity_server"
	fsmEndpointClient = "endpoint_client"
	fsmEndpointServer = "endpoint_server"
)

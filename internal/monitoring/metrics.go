package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wayguide"

// Metrics holds the controller's Prometheus collectors. All methods are safe
// to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	modeSwitches      *prometheus.CounterVec
	replies           *prometheus.CounterVec
	escalatorOutcomes *prometheus.CounterVec
	obstacleVotes     *prometheus.CounterVec
	protocolFaults    prometheus.Counter
	transportFaults   prometheus.Counter
	activeService     *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		modeSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_switches_total",
			Help:      "Accepted mode commands by target mode.",
		}, []string{"mode"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies written to the control link by action.",
		}, []string{"action"}),
		escalatorOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalator_runs_total",
			Help:      "Completed escalator detection runs by outcome.",
		}, []string{"outcome"}),
		obstacleVotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "obstacle_votes_total",
			Help:      "Majority obstacle votes by direction.",
		}, []string{"vote"}),
		protocolFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_faults_total",
			Help:      "Inbound control lines that could not be parsed.",
		}),
		transportFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_faults_total",
			Help:      "Control link sessions ended by a read or write failure.",
		}),
		activeService: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_service",
			Help:      "1 for the sensing service currently running, 0 otherwise.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.modeSwitches,
		m.replies,
		m.escalatorOutcomes,
		m.obstacleVotes,
		m.protocolFaults,
		m.transportFaults,
		m.activeService,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ModeSwitch(mode string) {
	if m == nil {
		return
	}
	m.modeSwitches.WithLabelValues(mode).Inc()
}

func (m *Metrics) Reply(action string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(action).Inc()
}

func (m *Metrics) EscalatorOutcome(outcome string) {
	if m == nil {
		return
	}
	m.escalatorOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObstacleVote(vote string) {
	if m == nil {
		return
	}
	m.obstacleVotes.WithLabelValues(vote).Inc()
}

func (m *Metrics) ProtocolFault() {
	if m == nil {
		return
	}
	m.protocolFaults.Inc()
}

// ProtocolFaults adds n faults at once, for links that count discarded
// input themselves.
func (m *Metrics) ProtocolFaults(n uint64) {
	if m == nil {
		return
	}
	m.protocolFaults.Add(float64(n))
}

func (m *Metrics) TransportFault() {
	if m == nil {
		return
	}
	m.transportFaults.Inc()
}

// SetActive marks kind as the running service and zeroes the others.
// An empty kind clears all.
func (m *Metrics) SetActive(kind string, kinds ...string) {
	if m == nil {
		return
	}
	for _, k := range kinds {
		v := 0.0
		if k == kind {
			v = 1
		}
		m.activeService.WithLabelValues(k).Set(v)
	}
}

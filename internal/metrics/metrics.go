package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for terminal sessions and relays.
// Each instance owns its registry, so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsStarted *prometheus.CounterVec
	SessionsExited  *prometheus.CounterVec

	// Relay metrics
	RelayConnections prometheus.Gauge
	RelayOutputBytes prometheus.Counter
	RelayInput       *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termbridge_sessions_active",
			Help: "Number of terminal processes currently running",
		}),
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "termbridge_sessions_started_total",
			Help: "Total number of terminal processes started",
		}, []string{"key"}),
		SessionsExited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "termbridge_sessions_exited_total",
			Help: "Total number of terminal processes that exited",
		}, []string{"key"}),

		RelayConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termbridge_relay_connections",
			Help: "Number of attached WebSocket relays",
		}),
		RelayOutputBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "termbridge_relay_output_bytes_total",
			Help: "Total PTY output bytes sent to clients, replay included",
		}),
		RelayInput: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "termbridge_relay_input_messages_total",
			Help: "Total client messages received, by kind",
		}, []string{"kind"}),
	}
}

// SessionStarted implements pty.Observer.
func (m *Metrics) SessionStarted(key string, _ int, _ []string) {
	m.SessionsActive.Inc()
	m.SessionsStarted.WithLabelValues(key).Inc()
}

// SessionExited implements pty.Observer.
func (m *Metrics) SessionExited(key string, _ int, _ int) {
	m.SessionsActive.Dec()
	m.SessionsExited.WithLabelValues(key).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

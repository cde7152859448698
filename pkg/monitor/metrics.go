package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/ipcdemo/pkg/event"
)

const namespace = "ipcdemo"

// Metrics counts what supervised processes report.
type Metrics struct {
	Events  *prometheus.CounterVec
	Exits   *prometheus.CounterVec
	Running prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the collectors and registers them on a fresh registry, which Handler
// serves.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "events_total",
			Help:      "Events received from supervised processes.",
		}, []string{"module", "type"}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "process_exits_total",
			Help:      "Supervised process exits by result.",
		}, []string{"module", "result"}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "running_processes",
			Help:      "Supervised processes currently running.",
		}),
		registry: reg,
	}
	reg.MustRegister(m.Events, m.Exits, m.Running)
	return m
}

// Registry returns the registry the collectors live on, for callers adding their own.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observe(e event.Event) {
	m.Events.WithLabelValues(e.Module, string(e.Kind)).Inc()
}

func (m *Metrics) exited(module string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Exits.WithLabelValues(module, result).Inc()
	m.Running.Dec()
}

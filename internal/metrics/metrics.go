// Package metrics exposes coordinator counters to prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the coordinator's counters.
type Metrics struct {
	registry *prometheus.Registry

	VendorCalls     *prometheus.CounterVec
	CostUnits       prometheus.Counter
	PushEvents      *prometheus.CounterVec
	ScheduledCycles prometheus.Counter
	PointErrors     *prometheus.CounterVec
}

// New registers the coordinator counters on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		VendorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carbridge_vendor_calls_total",
			Help: "Outbound vendor API calls by outcome.",
		}, []string{"outcome"}),
		CostUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carbridge_cost_units_total",
			Help: "Quota cost units spent on vendor calls.",
		}),
		PushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carbridge_push_events_total",
			Help: "Inbound push events by result.",
		}, []string{"result"}),
		ScheduledCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carbridge_scheduled_cycles_total",
			Help: "Completed scheduled refresh cycles.",
		}),
		PointErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carbridge_datapoint_errors_total",
			Help: "Per data point fetch errors by kind.",
		}, []string{"kind"}),
	}

	registry.MustRegister(m.VendorCalls, m.CostUnits, m.PushEvents, m.ScheduledCycles, m.PointErrors)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

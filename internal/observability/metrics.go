// Package observability holds the Prometheus instrumentation for the bridge.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// alert poller and the entity reconciler.
type Metrics struct {
	PollsTotal   *prometheus.CounterVec // labels: outcome={success,failure}
	PollDuration prometheus.Histogram

	ActiveAlerts    prometheus.Gauge
	TrackedEntities prometheus.Gauge

	EntityOps       *prometheus.CounterVec // labels: op={add,remove,skip_unknown}
	EventsFired     prometheus.Counter
	SyntheticAlerts prometheus.Counter
	HAReconnects    prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oref",
			Name:      "polls_total",
			Help:      "Feed poll cycles by outcome.",
		}, []string{"outcome"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "oref",
			Name:      "poll_duration_seconds",
			Help:      "Duration of a complete poll cycle across both feeds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oref",
			Name:      "active_alerts",
			Help:      "Areas with an active alert in the latest snapshot.",
		}),
		TrackedEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oref",
			Name:      "tracked_entities",
			Help:      "Geolocation entities currently tracked in Home Assistant.",
		}),
		EntityOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oref",
			Name:      "entity_ops_total",
			Help:      "Entity reconciliation operations by kind.",
		}, []string{"op"}),
		EventsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oref",
			Name:      "events_fired_total",
			Help:      "Home Assistant events fired for newly active areas.",
		}),
		SyntheticAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oref",
			Name:      "synthetic_alerts_total",
			Help:      "Synthetic alerts injected via Home Assistant events.",
		}),
		HAReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oref",
			Name:      "ha_reconnects_total",
			Help:      "WebSocket reconnects to Home Assistant.",
		}),
	}
}

// NewMetrics creates the bridge metrics and registers them with the given
// registry, typically prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.PollsTotal,
		m.PollDuration,
		m.ActiveAlerts,
		m.TrackedEntities,
		m.EntityOps,
		m.EventsFired,
		m.SyntheticAlerts,
		m.HAReconnects,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

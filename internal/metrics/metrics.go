// Package metrics exposes engine counters and gauges for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	OrdersCreated prometheus.Counter
	Transitions   *prometheus.CounterVec
	Retries       prometheus.Counter
	QueueDepth    *prometheus.GaugeVec
	ActiveSinks   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_orders_created_total",
			Help: "Orders accepted at submission.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_order_transitions_total",
			Help: "Order status transitions by target status.",
		}, []string{"status"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_order_retries_total",
			Help: "Worker attempts that did not end confirmed.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_queue_depth",
			Help: "Queue depth by state.",
		}, []string{"state"}),
		ActiveSinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_active_subscriptions",
			Help: "Currently registered subscription sinks.",
		}),
	}

	m.registry.MustRegister(
		m.OrdersCreated, m.Transitions, m.Retries, m.QueueDepth, m.ActiveSinks,
	)
	return m
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

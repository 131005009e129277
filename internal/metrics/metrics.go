// Package metrics exposes business metrics for orders and tax resolution
// through Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xenking/mothership-commerce/internal/domain/order"
)

const subsystem = "commerce"

var _ order.Metrics = (*Business)(nil)

// Business holds the order and tax metrics. It implements order.Metrics.
type Business struct {
	registry *prometheus.Registry

	ordersPlaced    *prometheus.CounterVec
	orderGross      *prometheus.HistogramVec
	orderTax        *prometheus.CounterVec
	orderItems      prometheus.Histogram
	ordersCompleted *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	taxFailures     *prometheus.CounterVec
	rulesReloads    *prometheus.CounterVec
}

// New creates Business metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func New(namespace string) *Business {
	if namespace == "" {
		namespace = "mothership"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Business{
		registry: reg,
		ordersPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orders_placed_total",
			Help:      "Total orders placed",
		}, []string{"currency"}),
		orderGross: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "order_gross",
			Help:      "Order gross total distribution in major currency units",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"currency"}),
		orderTax: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "order_tax_total",
			Help:      "Tax charged on placed orders in major currency units",
		}, []string{"currency"}),
		orderItems: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "order_item_count",
			Help:      "Number of items per order",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		}),
		ordersCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orders_completed_total",
			Help:      "Total orders completed",
		}, []string{"currency"}),
		ordersCancelled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orders_cancelled_total",
			Help:      "Total orders cancelled",
		}, []string{"currency"}),
		taxFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tax_resolution_failures_total",
			Help:      "Tax rate resolutions failed by reason",
		}, []string{"reason"}),
		rulesReloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tax_rules_reloads_total",
			Help:      "Tax rule reload attempts by result",
		}, []string{"result"}),
	}
}

// OrderPlaced records a committed order.
func (b *Business) OrderPlaced(o *order.Order) {
	b.ordersPlaced.WithLabelValues(o.CurrencyID).Inc()
	b.orderGross.WithLabelValues(o.CurrencyID).Observe(o.TotalGross.InexactFloat64())
	b.orderTax.WithLabelValues(o.CurrencyID).Add(o.TotalTax.InexactFloat64())
	b.orderItems.Observe(float64(o.Count(order.KindItem)))
}

// OrderCompleted records a completed order.
func (b *Business) OrderCompleted(o *order.Order) {
	b.ordersCompleted.WithLabelValues(o.CurrencyID).Inc()
}

// OrderCancelled records a cancelled order.
func (b *Business) OrderCancelled(o *order.Order) {
	b.ordersCancelled.WithLabelValues(o.CurrencyID).Inc()
}

// TaxResolutionFailed records a failed resolution.
func (b *Business) TaxResolutionFailed(reason string) {
	b.taxFailures.WithLabelValues(reason).Inc()
}

// RulesReloaded records a tax rule reload attempt.
func (b *Business) RulesReloaded(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	b.rulesReloads.WithLabelValues(result).Inc()
}

// Registry returns the registry holding the metrics.
func (b *Business) Registry() *prometheus.Registry { return b.registry }

// Handler serves the registry in the Prometheus exposition format.
func (b *Business) Handler() http.Handler {
	return promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{Registry: b.registry})
}

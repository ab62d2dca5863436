package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lpg"

// Collector groups the process metrics. A nil *Collector is valid and records
// nothing, which keeps tests free of registry setup.
type Collector struct {
	registry           *prometheus.Registry
	transactions       *prometheus.CounterVec
	allocationFailures prometheus.Counter
	commitDuration     prometheus.Histogram
	purchasePayments   *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Business transactions by entry kind and final status.",
		}, []string{"kind", "status"}),
		allocationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_allocation_failures_total",
			Help:      "Document number allocations that failed.",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_commit_seconds",
			Help:      "Time spent in the storage transaction of a commit.",
			Buckets:   prometheus.DefBuckets,
		}),
		purchasePayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_payments_total",
			Help:      "Vendor purchase payments by resulting payment status.",
		}, []string{"status"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.transactions,
		c.allocationFailures,
		c.commitDuration,
		c.purchasePayments,
	)
	return c
}

func (c *Collector) ObserveTransaction(kind string, status string) {
	if c == nil {
		return
	}
	c.transactions.WithLabelValues(kind, status).Inc()
}

func (c *Collector) AllocationFailed() {
	if c == nil {
		return
	}
	c.allocationFailures.Inc()
}

func (c *Collector) ObserveCommit(d time.Duration) {
	if c == nil {
		return
	}
	c.commitDuration.Observe(d.Seconds())
}

func (c *Collector) ObservePurchasePayment(status string) {
	if c == nil {
		return
	}
	c.purchasePayments.WithLabelValues(status).Inc()
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	OrdersAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_accepted_total",
		Help: "Orders accepted by intake",
	})
	OrdersRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Orders rejected by intake, by reason",
	}, []string{"reason"})
	EnqueueGap = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_enqueue_gap_total",
		Help: "Stock decremented but order messages could not be published",
	})
	LedgerConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stock_ledger_conflicts_total",
		Help: "Optimistic concurrency conflicts seen by the stock ledger",
	})
	Materialized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_materialized_total",
		Help: "Order notifications handled by the materializer, by outcome",
	}, []string{"outcome"})
	StockLevel = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "product_stock_level",
		Help: "Last observed available stock per product",
	}, []string{"product_id"})
	PollOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "convergence_polls_total",
		Help: "Convergence waits by outcome",
	}, []string{"outcome"})
	OutboxDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_dispatched_total",
		Help: "Outbox messages published",
	})
	PoisonMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poison_messages_total",
		Help: "Messages quarantined after exhausting redelivery",
	}, []string{"topic"})
	StoreLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "store_latency_seconds",
		Help:    "Table store operation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		OrdersAccepted, OrdersRejected, EnqueueGap, LedgerConflicts, Materialized,
		StockLevel, PollOutcomes, OutboxDispatched, PoisonMessages, StoreLatency,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

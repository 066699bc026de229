package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersProcessed counts total admitted orders by side (BUY/SELL)
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "birzha_orders_processed_total",
		Help: "Total number of orders admitted by the matching engine",
	},
	[]string{"side"},
)

// OrdersRejected counts pre-trade rejections by reason
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "birzha_orders_rejected_total",
		Help: "Total number of orders rejected before admission",
	},
	[]string{"reason"},
)

// TradesExecuted counts executed trade legs
var TradesExecuted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "birzha_trades_executed_total",
		Help: "Total number of trades produced by the matcher",
	},
)

// OrderLatency records latency distribution for order processing
var OrderLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "birzha_order_processing_latency_seconds",
		Help:    "Latency in seconds to admit and match individual orders",
		Buckets: prometheus.DefBuckets,
	},
)

// OrdersCancelled counts explicit order cancellations
var OrdersCancelled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "birzha_orders_cancelled_total",
		Help: "Total number of orders cancelled by their owners",
	},
)

func init() {
	prometheus.MustRegister(OrdersProcessed, OrdersRejected, TradesExecuted)
	prometheus.MustRegister(OrderLatency, OrdersCancelled)
}

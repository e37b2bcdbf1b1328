package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serona_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serona_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	QuotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serona_quota_decisions_total",
			Help: "Quota admission decisions by result and denial reason.",
		},
		[]string{"result", "reason"},
	)

	PaymentOrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serona_payment_orders_total",
			Help: "Payment orders created, by plan type.",
		},
		[]string{"plan_type"},
	)

	PaymentReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serona_payment_reconciliations_total",
			Help: "Payment reconciliation attempts by path (client|webhook) and outcome.",
		},
		[]string{"path", "outcome"},
	)

	CompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serona_completions_total",
			Help: "Chat completion requests by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QuotaDecisionsTotal,
		PaymentOrdersTotal,
		PaymentReconciliationsTotal,
		CompletionsTotal,
	)
}

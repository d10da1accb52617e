package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the domain counters and the HTTP latency histogram
type Metrics struct {
	AllocationsSaved        prometheus.Counter
	SettlementsCreated      prometheus.Counter
	SettlementStatusUpdates *prometheus.CounterVec
	SlackNotifications      *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
}

// NewMetrics registers every collector on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AllocationsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "splitbill_allocations_saved_total",
			Help: "Groups moved to the allocated state.",
		}),
		SettlementsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "splitbill_settlements_created_total",
			Help: "Settlements generated by saved allocations.",
		}),
		SettlementStatusUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splitbill_settlement_status_updates_total",
			Help: "Settlement status changes by new status.",
		}, []string{"status"}),
		SlackNotifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splitbill_slack_notifications_total",
			Help: "Slack deliveries by result.",
		}, []string{"result"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "splitbill_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	producedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksession_produced_total",
		Help: "Total number of messages enqueued for delivery",
	})
	produceRejectedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksession_produce_rejected_total",
		Help: "Total number of messages the client refused to enqueue",
	})
	deliveredCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksession_delivered_total",
		Help: "Total number of messages acknowledged by the broker",
	})
	deliveryFailedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksession_delivery_failed_total",
		Help: "Total number of messages reported as failed",
	})
	abandonedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksession_abandoned_total",
		Help: "Total number of in-flight messages abandoned when a drain was cut short",
	})
	consumedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksession_consumed_total",
		Help: "Total number of records returned to consumers",
	})
	fetchErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksession_fetch_errors_total",
		Help: "Total number of per-record fetch errors",
	})
	partitionEOFCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksession_partition_eof_total",
		Help: "Total number of times a consumer reached the end of its partition",
	})
	fetchDurationObserver = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "ksession_fetch_duration",
		Help: "Duration of a single fetch wait in seconds",
	})
)

package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventstore",
		Subsystem: "dispatch",
		Name:      "events_delivered_total",
		Help:      "Events delivered to consumers, labeled by qualified topic.",
	}, []string{"topic"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventstore",
		Subsystem: "dispatch",
		Name:      "delivery_failures_total",
		Help:      "Delivery attempts that failed, labeled by qualified topic.",
	}, []string{"topic"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eventstore",
		Subsystem: "dispatch",
		Name:      "batch_duration_seconds",
		Help:      "Time spent delivering one batch to one consumer.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	parkedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventstore",
		Subsystem: "dispatch",
		Name:      "parked_consumers",
		Help:      "Consumers parked after exhausting their retry budget.",
	})

	removedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eventstore",
		Subsystem: "dispatch",
		Name:      "consumers_removed_total",
		Help:      "Consumers removed by the delete-on-exhaustion policy.",
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, batchDuration, parkedGauge, removedCounter)
}

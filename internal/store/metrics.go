package store

import "github.com/prometheus/client_golang/prometheus"

var (
	writesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventstore",
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Events written to the backing store.",
		},
		[]string{"backend"},
	)

	writeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventstore",
			Subsystem: "store",
			Name:      "write_failures_total",
			Help:      "Event writes that failed.",
		},
		[]string{"backend"},
	)

	malformedSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventstore",
			Subsystem: "store",
			Name:      "malformed_skipped_total",
			Help:      "Persisted events skipped on read because they could not be decoded.",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(writesTotal, writeFailuresTotal, malformedSkippedTotal)
}

func recordWrite(backend string) {
	writesTotal.WithLabelValues(backend).Inc()
}

func recordWriteFailure(backend string) {
	writeFailuresTotal.WithLabelValues(backend).Inc()
}

func recordMalformedSkip(backend string) {
	malformedSkippedTotal.WithLabelValues(backend).Inc()
}

// Package observability exposes cross-cutting store metrics.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	topicSequenceGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "eventstore",
		Subsystem: "topics",
		Name:      "sequence",
		Help:      "Latest allocated sequence number per topic.",
	}, []string{"topic"})
	publishedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventstore",
		Subsystem: "topics",
		Name:      "events_published_total",
		Help:      "Events accepted and persisted per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(topicSequenceGauge, publishedCounter)
}

// RecordTopicSequence updates the per-topic sequence watermark gauge.
func RecordTopicSequence(topic string, sequence int64) {
	if sequence < 0 {
		return
	}
	topicSequenceGauge.WithLabelValues(topic).Set(float64(sequence))
}

// RecordPublished counts freshly published events for a topic.
func RecordPublished(topic string, count int) {
	if count <= 0 {
		return
	}
	publishedCounter.WithLabelValues(topic).Add(float64(count))
}

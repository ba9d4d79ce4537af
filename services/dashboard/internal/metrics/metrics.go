// Package metrics bundles the dashboard's Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set holds the collectors the aggregator updates while folding the feed.
type Set struct {
	SnapshotsApplied prometheus.Counter
	EventsApplied    prometheus.Counter
	MessagesDropped  prometheus.Counter
	QueueLength      prometheus.Gauge
	Machines         prometheus.Gauge
	IngestSeconds    prometheus.Histogram
}

// New creates and registers the collector set. A nil reg registers against
// the default registry.
func New(reg prometheus.Registerer) *Set {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &Set{
		SnapshotsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floorsight_snapshots_applied_total",
			Help: "Machine snapshots folded into the telemetry store.",
		}),
		EventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floorsight_lifecycle_events_applied_total",
			Help: "Lifecycle events folded into the dashboard projections.",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floorsight_messages_dropped_total",
			Help: "Bus messages dropped as malformed, unroutable, or incomplete.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floorsight_queue_length",
			Help: "Jobs currently in the queue projection.",
		}),
		Machines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floorsight_machines",
			Help: "Machines currently known to the telemetry store.",
		}),
		IngestSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "floorsight_ingest_seconds",
			Help:    "Time spent folding one bus message into the stores.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
		}),
	}

	reg.MustRegister(
		s.SnapshotsApplied,
		s.EventsApplied,
		s.MessagesDropped,
		s.QueueLength,
		s.Machines,
		s.IngestSeconds,
	)
	return s
}

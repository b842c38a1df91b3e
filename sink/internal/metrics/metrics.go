package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed metrics
	RecordsPolled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_lake_sink_records_polled_total",
			Help: "Total number of records returned by the feed",
		},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telhawk_lake_sink_poll_duration_seconds",
			Help:    "Duration of feed polls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_lake_sink_poll_errors_total",
			Help: "Total number of failed feed polls",
		},
	)

	Commits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_lake_sink_commits_total",
			Help: "Total number of feed commits",
		},
		[]string{"status"},
	)

	// Write metrics
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_lake_sink_records_written_total",
			Help: "Total number of records written to raw partitions",
		},
		[]string{"ingest_date"},
	)

	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_lake_sink_records_dropped_total",
			Help: "Total number of records dropped before partitioning",
		},
		[]string{"reason"},
	)

	FilesOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_lake_sink_files_opened_total",
			Help: "Total number of raw part files opened",
		},
	)

	// Checkpoint metrics
	CheckpointOffset = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telhawk_lake_sink_checkpoint_offset",
			Help: "Next offset recorded in the checkpoint store",
		},
	)

	// DLQ metrics
	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_lake_sink_dlq_writes_total",
			Help: "Total number of dropped records sent to the DLQ",
		},
		[]string{"status"},
	)
)

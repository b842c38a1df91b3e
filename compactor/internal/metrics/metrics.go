package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PartitionsCompacted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_lake_compactor_partitions_total",
			Help: "Total number of partitions processed by compaction",
		},
		[]string{"status"}, // compacted, skipped, failed
	)

	PartitionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telhawk_lake_compactor_partition_duration_seconds",
			Help:    "Time spent compacting one partition in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
	)

	// Row metrics
	RowsRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_lake_compactor_rows_read_total",
			Help: "Total number of raw records read",
		},
	)

	RowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_lake_compactor_rows_written_total",
			Help: "Total number of rows written to compacted files",
		},
	)

	MalformedLines = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_lake_compactor_malformed_lines_total",
			Help: "Total number of raw lines skipped as malformed",
		},
	)

	RowsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_lake_compactor_rows_discarded_total",
			Help: "Total number of rows removed by deduplication",
		},
		[]string{"reason"}, // duplicate, missing_id
	)

	FilesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_lake_compactor_files_written_total",
			Help: "Total number of compacted part files written",
		},
	)

	BytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_lake_compactor_bytes_written_total",
			Help: "Total bytes of compacted part files written",
		},
	)
)

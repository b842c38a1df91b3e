package logging

import "log/slog"

// Common field names for consistent logging across the sink and compactor.
const (
	FieldService     = "service"
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldRunID       = "run_id"
	FieldPartition   = "ingest_date"
	FieldPath        = "path"
	FieldTopic       = "topic"
	FieldFeedPart    = "feed_partition"
	FieldOffset      = "offset"
	FieldReason      = "reason"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldEventID     = "event_id"
	FieldRows        = "rows"
	FieldSequence    = "seq"
	FieldFeedBackend = "feed_backend"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute naming the internal component.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// RunID returns a slog attribute for a batch run identifier.
func RunID(id string) slog.Attr {
	return slog.String(FieldRunID, id)
}

// Partition returns a slog attribute for a partition key (ingest date).
func Partition(key string) slog.Attr {
	return slog.String(FieldPartition, key)
}

// Path returns a slog attribute for a filesystem path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Topic returns a slog attribute for a feed topic or stream.
func Topic(topic string) slog.Attr {
	return slog.String(FieldTopic, topic)
}

// FeedPartition returns a slog attribute for a feed partition number.
func FeedPartition(p int) slog.Attr {
	return slog.Int(FieldFeedPart, p)
}

// Offset returns a slog attribute for a feed offset.
func Offset(offset int64) slog.Attr {
	return slog.Int64(FieldOffset, offset)
}

// Reason returns a slog attribute for a drop or skip reason.
func Reason(reason string) slog.Attr {
	return slog.String(FieldReason, reason)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// Rows returns a slog attribute for a row count.
func Rows(n int) slog.Attr {
	return slog.Int(FieldRows, n)
}

// Sequence returns a slog attribute for a part file sequence number.
func Sequence(seq int) slog.Attr {
	return slog.Int(FieldSequence, seq)
}

// FeedBackend returns a slog attribute for the feed backend name.
func FeedBackend(name string) slog.Attr {
	return slog.String(FieldFeedBackend, name)
}

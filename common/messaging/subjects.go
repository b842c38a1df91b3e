package messaging

import "strings"

// Subject and stream names used on the NATS side of the lake.
// Follow the pattern: {domain}.{resource}.{qualifier}
const (
	// StreamEvents captures envelopes published for the raw sink.
	StreamEvents = "LAKE_EVENTS"

	// SubjectEvents is the default subject envelopes are published to.
	SubjectEvents = "lake.events.raw"

	// StreamDLQ captures records the sink dropped.
	StreamDLQ = "LAKE_DLQ"

	// SubjectDLQPrefix prefixes dead-letter subjects; the drop reason is appended.
	SubjectDLQPrefix = "lake.dlq"
)

// DLQSubject returns the dead-letter subject for a drop reason.
// Example: lake.dlq.missing_ingest_time
func DLQSubject(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	return SubjectDLQPrefix + "." + strings.ReplaceAll(reason, ".", "_")
}

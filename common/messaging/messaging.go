// Package messaging provides abstractions over the message feed the raw sink
// consumes from. Broker specifics (connection, group membership, partition
// assignment, broker retries) live in the backend packages; the sink only
// sees batches of records and an explicit commit.
package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Record is one message delivered by a feed.
type Record struct {
	// Topic is the topic (Kafka) or stream (JetStream) the record came from.
	Topic string

	// Partition is the feed partition. Single-stream backends always report 0.
	Partition int

	// Offset is the record's position within its partition.
	Offset int64

	// Key is the optional message key.
	Key []byte

	// Value is the raw message payload, expected to be one JSON envelope.
	Value []byte

	// Timestamp is the broker-side publish time when available.
	Timestamp time.Time
}

// Feed is a pull-based, ordered source of records.
type Feed interface {
	// Poll returns the next batch of records, waiting at most timeout.
	// An empty batch is not an error.
	Poll(ctx context.Context, timeout time.Duration) ([]Record, error)

	// Commit marks every record returned by Poll so far as processed.
	Commit(ctx context.Context) error

	// Close releases the broker connection.
	Close() error
}

// Publisher sends records to a topic or subject.
type Publisher interface {
	// Publish sends one message and waits for the broker to accept it.
	Publish(ctx context.Context, topic string, key, value []byte) error

	// Close releases any resources held by the publisher.
	Close() error
}

// ConnectionChecker is implemented by feeds that can report broker connectivity.
type ConnectionChecker interface {
	IsConnected() bool
}

// Redeliverer is implemented by feeds whose broker redelivers fetched records
// until they are committed. Such feeds also need commits past records that
// were dropped rather than written.
type Redeliverer interface {
	RedeliversUncommitted() bool
}

// ResetPolicy decides where a consumer starts when it has no committed position.
type ResetPolicy string

const (
	ResetEarliest ResetPolicy = "earliest"
	ResetLatest   ResetPolicy = "latest"
)

// ParseResetPolicy validates a configured reset policy.
func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch p := ResetPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case ResetEarliest, ResetLatest:
		return p, nil
	case "":
		return ResetEarliest, nil
	default:
		return "", fmt.Errorf("unknown offset reset policy %q (supported: earliest, latest)", s)
	}
}

// FeedOptions carries the backend-independent consumer settings.
type FeedOptions struct {
	// Topic (Kafka) or stream subject filter (JetStream).
	Topic string

	// Group is the consumer group (Kafka) or durable consumer name (JetStream).
	Group string

	// Reset applies when the group has no committed position.
	Reset ResetPolicy

	// AutoCommit lets the backend commit on its own schedule.
	AutoCommit bool

	// MaxPollRecords caps the size of one Poll batch.
	MaxPollRecords int

	// StartOffset, when set, pins the feed to resume at this offset.
	// Backends treat it as a single-partition position.
	StartOffset *int64
}

// BatchSize returns MaxPollRecords or the default of 500.
func (o FeedOptions) BatchSize() int {
	if o.MaxPollRecords <= 0 {
		return 500
	}
	return o.MaxPollRecords
}

package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/telhawk-lake/common/messaging"
)

// JetStreamQueue publishes dropped records to the DLQ stream, one subject
// per drop reason. Safe for use across multiple sink instances.
type JetStreamQueue struct {
	pub     messaging.Publisher
	written atomic.Uint64
}

// NewJetStreamQueue creates a DLQ backed by a publisher. The caller is
// responsible for making sure the DLQ stream exists.
func NewJetStreamQueue(pub messaging.Publisher) (*JetStreamQueue, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is nil")
	}
	return &JetStreamQueue{pub: pub}, nil
}

// Write publishes a dropped record.
func (q *JetStreamQueue) Write(ctx context.Context, rec DroppedRecord) error {
	if q == nil {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	// Message ID lets the stream discard a republish of the same record.
	id := fmt.Sprintf("%s/%d/%d", rec.Topic, rec.Partition, rec.Offset)
	if err := q.pub.Publish(ctx, messaging.DLQSubject(rec.Reason), []byte(id), data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	q.written.Add(1)
	return nil
}

// Written returns how many records this queue has published.
func (q *JetStreamQueue) Written() uint64 {
	if q == nil {
		return 0
	}
	return q.written.Load()
}

var _ Queue = (*JetStreamQueue)(nil)

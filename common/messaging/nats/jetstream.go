package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/telhawk-systems/telhawk-lake/common/messaging"
)

// JetStreamClient extends Client with JetStream persistence capabilities.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// Predefined stream configurations for the lake.
var (
	// EventsStream holds envelopes waiting for the raw sink. Limits retention
	// lets a checkpoint replay from any sequence still in the stream.
	EventsStream = StreamConfig{
		Name:      messaging.StreamEvents,
		Subjects:  []string{"lake.events.>"},
		MaxAge:    72 * time.Hour,
		MaxBytes:  10 * 1024 * 1024 * 1024, // 10GB
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}

	// DLQStream holds records the sink could not partition.
	DLQStream = StreamConfig{
		Name:      messaging.StreamDLQ,
		Subjects:  []string{messaging.SubjectDLQPrefix + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
)

// EventsStreamFor returns EventsStream renamed and narrowed to one subject.
func EventsStreamFor(name, subject string) StreamConfig {
	cfg := EventsStream
	if name != "" {
		cfg.Name = name
	}
	if subject != "" {
		cfg.Subjects = []string{subject}
	}
	return cfg
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(client *Client) (*JetStreamClient, error) {
	js, err := jetstream.New(client.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &JetStreamClient{Client: client, js: js}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// Publish sends data to a subject and waits for the stream acknowledgment.
// A non-empty key becomes the message ID so JetStream can drop duplicates
// inside its dedup window.
func (c *JetStreamClient) Publish(ctx context.Context, subject string, key, value []byte) error {
	var opts []jetstream.PublishOpt
	if len(key) > 0 {
		opts = append(opts, jetstream.WithMsgID(string(key)))
	}
	if _, err := c.js.Publish(ctx, subject, value, opts...); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

var _ messaging.Publisher = (*JetStreamClient)(nil)

// consumerConfig builds the durable pull consumer used when no checkpoint
// pins the start position.
func consumerConfig(opts messaging.FeedOptions) jetstream.ConsumerConfig {
	deliver := jetstream.DeliverAllPolicy
	if opts.Reset == messaging.ResetLatest {
		deliver = jetstream.DeliverNewPolicy
	}
	return jetstream.ConsumerConfig{
		Name:          opts.Group,
		Durable:       opts.Group,
		FilterSubject: opts.Topic,
		DeliverPolicy: deliver,
		AckPolicy:     jetstream.AckAllPolicy,
		AckWait:       30 * time.Second,
		MaxAckPending: opts.BatchSize() * 4,
	}
}

// orderedConfig builds the ephemeral ordered consumer used when a checkpoint
// supplies the next stream sequence.
func orderedConfig(opts messaging.FeedOptions) jetstream.OrderedConsumerConfig {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{opts.Topic},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if opts.StartOffset != nil && *opts.StartOffset > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = uint64(*opts.StartOffset)
	}
	return cfg
}

// Feed is a pull-based messaging.Feed over a JetStream consumer. Offsets are
// stream sequences; every record reports partition 0.
type Feed struct {
	client   *JetStreamClient
	consumer jetstream.Consumer
	opts     messaging.FeedOptions
	ordered  bool
	last     jetstream.Msg
}

// NewFeed binds a consumer on stream for opts. With a StartOffset the feed
// reads through an ordered consumer and leaves position tracking to the
// caller's checkpoint store.
func (c *JetStreamClient) NewFeed(ctx context.Context, stream string, opts messaging.FeedOptions) (*Feed, error) {
	s, err := c.js.Stream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", stream, err)
	}

	f := &Feed{client: c, opts: opts}
	if opts.StartOffset != nil {
		f.ordered = true
		f.consumer, err = s.OrderedConsumer(ctx, orderedConfig(opts))
	} else {
		f.consumer, err = s.CreateOrUpdateConsumer(ctx, consumerConfig(opts))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer on %s: %w", stream, err)
	}
	return f, nil
}

// Poll fetches up to MaxPollRecords messages, waiting at most timeout.
func (f *Feed) Poll(ctx context.Context, timeout time.Duration) ([]messaging.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	batch, err := f.consumer.Fetch(f.opts.BatchSize(), jetstream.FetchMaxWait(timeout))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	var records []messaging.Record
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			return records, fmt.Errorf("message metadata: %w", err)
		}
		records = append(records, messaging.Record{
			Topic:     msg.Subject(),
			Partition: 0,
			Offset:    int64(meta.Sequence.Stream),
			Key:       []byte(msg.Headers().Get(jetstream.MsgIDHeader)),
			Value:     msg.Data(),
			Timestamp: meta.Timestamp,
		})
		f.last = msg
		if f.opts.AutoCommit && !f.ordered {
			if err := msg.Ack(); err != nil {
				return records, fmt.Errorf("ack: %w", err)
			}
		}
	}
	if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) && !errors.Is(err, context.DeadlineExceeded) {
		return records, fmt.Errorf("fetch: %w", err)
	}
	return records, nil
}

// Commit acknowledges everything fetched so far. The durable consumer uses
// AckAll, so acking the newest message covers the ones before it. Ordered
// consumers carry no server-side position and Commit is a no-op.
func (f *Feed) Commit(ctx context.Context) error {
	if f.ordered || f.last == nil {
		return nil
	}
	if err := f.last.DoubleAck(ctx); err != nil {
		return fmt.Errorf("ack through %s: %w", f.last.Subject(), err)
	}
	f.last = nil
	return nil
}

// Close releases the underlying connection.
func (f *Feed) Close() error {
	return f.client.Close()
}

// IsConnected reports broker connectivity.
func (f *Feed) IsConnected() bool {
	return f.client.IsConnected()
}

// RedeliversUncommitted reports whether fetched messages stay pending until
// Commit. Only the durable consumer without auto-commit tracks acks.
func (f *Feed) RedeliversUncommitted() bool {
	return !f.ordered && !f.opts.AutoCommit
}

var (
	_ messaging.Feed              = (*Feed)(nil)
	_ messaging.ConnectionChecker = (*Feed)(nil)
	_ messaging.Redeliverer       = (*Feed)(nil)
)

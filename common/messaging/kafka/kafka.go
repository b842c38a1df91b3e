// Package kafka provides the Kafka backend for the lake feed and publisher
// interfaces, built on segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/telhawk-systems/telhawk-lake/common/messaging"
)

// Config holds Kafka connection settings.
type Config struct {
	// Brokers are the bootstrap broker addresses (host:port).
	Brokers []string

	// ClientID identifies the client to the brokers.
	ClientID string

	// MaxWait bounds how long a broker fetch may block.
	MaxWait time.Duration

	// CommitInterval is used for auto-commit. Zero commits synchronously.
	CommitInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Brokers:        []string{"localhost:9092"},
		ClientID:       "lake-sink",
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
	}
}

// ErrNoBrokers is returned when no broker address is configured.
var ErrNoBrokers = errors.New("kafka: no brokers configured")

// lingerAfterFirst bounds how long Poll keeps filling a batch once at least
// one record has arrived.
const lingerAfterFirst = 50 * time.Millisecond

// readerConfig maps the lake feed options onto kafka-go's reader settings.
// A StartOffset pins the reader to partition 0 without a group, since kafka-go
// only allows SetOffset on group-less readers.
func readerConfig(cfg Config, opts messaging.FeedOptions) (kafka.ReaderConfig, error) {
	if len(cfg.Brokers) == 0 {
		return kafka.ReaderConfig{}, ErrNoBrokers
	}
	if strings.TrimSpace(opts.Topic) == "" {
		return kafka.ReaderConfig{}, errors.New("kafka: topic is required")
	}

	start := kafka.FirstOffset
	if opts.Reset == messaging.ResetLatest {
		start = kafka.LastOffset
	}

	rc := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       opts.Topic,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     cfg.MaxWait,
		StartOffset: start,
		Dialer:      &kafka.Dialer{ClientID: cfg.ClientID, Timeout: 10 * time.Second, DualStack: true},
	}
	if opts.StartOffset != nil {
		rc.Partition = 0
		return rc, nil
	}

	if opts.Group == "" {
		return kafka.ReaderConfig{}, errors.New("kafka: consumer group is required")
	}
	rc.GroupID = opts.Group
	if opts.AutoCommit {
		rc.CommitInterval = cfg.CommitInterval
	}
	return rc, nil
}

// Feed is a messaging.Feed backed by a kafka-go Reader.
type Feed struct {
	reader  *kafka.Reader
	opts    messaging.FeedOptions
	grouped bool
	pending []kafka.Message
	logger  *slog.Logger
}

// NewFeed creates a reader for opts. The connection is established lazily on
// the first Poll.
func NewFeed(cfg Config, opts messaging.FeedOptions, logger *slog.Logger) (*Feed, error) {
	rc, err := readerConfig(cfg, opts)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	rc.ErrorLogger = kafka.LoggerFunc(func(msg string, args ...interface{}) {
		logger.Warn(fmt.Sprintf(msg, args...), slog.String("topic", opts.Topic))
	})

	reader := kafka.NewReader(rc)
	if opts.StartOffset != nil {
		if err := reader.SetOffset(*opts.StartOffset); err != nil {
			_ = reader.Close()
			return nil, fmt.Errorf("kafka: set offset %d: %w", *opts.StartOffset, err)
		}
	}

	return &Feed{
		reader:  reader,
		opts:    opts,
		grouped: rc.GroupID != "",
		logger:  logger,
	}, nil
}

// Poll returns up to MaxPollRecords records. It waits at most timeout for the
// first record and then only briefly for the rest of the batch.
func (f *Feed) Poll(ctx context.Context, timeout time.Duration) ([]messaging.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	var records []messaging.Record
	var fetched []kafka.Message
	for len(records) < f.opts.BatchSize() {
		wait := time.Until(deadline)
		if len(records) > 0 && wait > lingerAfterFirst {
			wait = lingerAfterFirst
		}
		if wait <= 0 {
			break
		}

		fctx, cancel := context.WithTimeout(ctx, wait)
		msg, err := f.reader.FetchMessage(fctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			return records, fmt.Errorf("kafka fetch: %w", err)
		}

		fetched = append(fetched, msg)
		records = append(records, messaging.Record{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Timestamp: msg.Time,
		})
	}

	if !f.grouped || len(fetched) == 0 {
		return records, nil
	}
	if f.opts.AutoCommit {
		// CommitInterval makes this asynchronous.
		if err := f.reader.CommitMessages(ctx, fetched...); err != nil {
			return records, fmt.Errorf("kafka auto-commit: %w", err)
		}
		return records, nil
	}
	f.pending = append(f.pending, fetched...)
	return records, nil
}

// Commit commits every record polled since the last commit. Group-less
// readers have nothing to commit.
func (f *Feed) Commit(ctx context.Context) error {
	if !f.grouped || len(f.pending) == 0 {
		return nil
	}
	if err := f.reader.CommitMessages(ctx, f.pending...); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	f.pending = f.pending[:0]
	return nil
}

// Close closes the reader and leaves the group.
func (f *Feed) Close() error {
	return f.reader.Close()
}

var _ messaging.Feed = (*Feed)(nil)

// Publisher writes records with a kafka-go Writer. The topic is chosen per
// message.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Publisher for the given brokers.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	return &Publisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}, nil
}

// Publish writes one message and waits for the brokers to acknowledge it.
func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: value}); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending writes and closes the writer. Safe to call on nil.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

var _ messaging.Publisher = (*Publisher)(nil)

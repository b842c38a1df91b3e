// Package service runs the raw sink: it polls the feed, partitions every
// record by the date of its ingest_time and lands it through the rolling
// writer, committing and checkpointing progress along the way.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/telhawk-lake/common/checkpoint"
	"github.com/telhawk-systems/telhawk-lake/common/logging"
	"github.com/telhawk-systems/telhawk-lake/common/messaging"
	"github.com/telhawk-systems/telhawk-lake/common/models"
	"github.com/telhawk-systems/telhawk-lake/common/partition"
	"github.com/telhawk-systems/telhawk-lake/common/dlq"
	"github.com/telhawk-systems/telhawk-lake/sink/internal/metrics"
)

// ErrMultiplePartitions is returned when a checkpoint store is configured and
// the feed delivers records from more than one partition. A single offset
// cannot describe progress across partitions.
var ErrMultiplePartitions = errors.New("records from multiple feed partitions with a single-offset checkpoint")

// State is the sink's lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Writer is the subset of the rolling writer the sink needs.
type Writer interface {
	Write(key string, record []byte) error
	CloseAll() error
}

// Config holds the sink loop settings.
type Config struct {
	// PollTimeout bounds a single feed poll.
	PollTimeout time.Duration
	// CommitInterval is the minimum time between feed commits.
	CommitInterval time.Duration
	// AutoCommit disables the sink's own commits.
	AutoCommit bool
	// ProgressEvery logs a progress line every N written records. Zero disables.
	ProgressEvery int
}

// Stats are the sink's running counters.
type Stats struct {
	Polled  uint64 `json:"polled"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
}

// Sink moves records from a feed into raw partition files.
type Sink struct {
	feed   messaging.Feed
	writer Writer
	store  checkpoint.Store
	dlq    dlq.Queue
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	state   atomic.Int32
	polled  atomic.Uint64
	written atomic.Uint64
	dropped atomic.Uint64

	// feed partition pinned by the first record when checkpointing
	partition int
	// dropped records count toward the next commit
	settleDrops bool
}

// Option configures a Sink.
type Option func(*Sink)

// WithCheckpoint saves offset+1 after every written record.
func WithCheckpoint(store checkpoint.Store) Option {
	return func(s *Sink) { s.store = store }
}

// WithDLQ sends dropped records to q.
func WithDLQ(q dlq.Queue) Option {
	return func(s *Sink) { s.dlq = q }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// WithClock replaces time.Now for commit scheduling.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// New creates a Sink.
func New(feed messaging.Feed, writer Writer, cfg Config, opts ...Option) *Sink {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	s := &Sink{
		feed:      feed,
		writer:    writer,
		cfg:       cfg,
		now:       time.Now,
		partition: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if r, ok := feed.(messaging.Redeliverer); ok {
		s.settleDrops = r.RedeliversUncommitted()
	}
	s.logger = logging.OrDefault(s.logger).With(logging.Component("sink"))
	return s
}

// State returns the current lifecycle phase.
func (s *Sink) State() State {
	return State(s.state.Load())
}

// Status reports the state name and readiness for health probes. A running
// sink whose feed reports a lost broker connection is not ready.
func (s *Sink) Status() (string, bool) {
	st := s.State()
	ready := st == StateRunning
	if cc, ok := s.feed.(messaging.ConnectionChecker); ok && ready && !cc.IsConnected() {
		ready = false
	}
	return st.String(), ready
}

// Stats returns a snapshot of the counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Polled:  s.polled.Load(),
		Written: s.written.Load(),
		Dropped: s.dropped.Load(),
	}
}

// ResumeOffset loads the checkpoint, if any, for positioning the feed before
// it is opened.
func ResumeOffset(ctx context.Context, store checkpoint.Store) (*int64, error) {
	if store == nil {
		return nil, nil
	}
	offset, ok, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &offset, nil
}

// Run consumes until ctx is cancelled or a fatal error occurs. Cancellation
// is only observed between polls, so the batch in hand is always finished.
// On a clean stop the sink commits once more; on a fatal error it does not.
// Either way every open file and the feed are closed.
func (s *Sink) Run(ctx context.Context) error {
	s.state.Store(int32(StateRunning))
	s.logger.Info("sink running", slog.Duration("poll_timeout", s.cfg.PollTimeout), slog.Bool("auto_commit", s.cfg.AutoCommit))

	lastCommit := s.now()
	uncommitted := false

	var fatal error
	for ctx.Err() == nil {
		records, pollErr := s.poll(ctx)

		// A failed poll can still hand over records the feed has moved past.
		written, dropped, err := s.process(ctx, records)
		if written > 0 || (dropped > 0 && s.settleDrops) {
			uncommitted = true
		}
		if err != nil {
			fatal = err
			break
		}

		if pollErr != nil {
			metrics.PollErrors.Inc()
			s.logger.Warn("feed poll failed", slog.Int("records", len(records)), logging.Error(pollErr))
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.PollTimeout):
			}
			continue
		}

		if !s.cfg.AutoCommit && uncommitted && s.now().Sub(lastCommit) >= s.cfg.CommitInterval {
			if s.commit(ctx) {
				uncommitted = false
			}
			lastCommit = s.now()
		}
	}

	s.state.Store(int32(StateDraining))
	if fatal == nil {
		s.logger.Info("sink draining")
		if !s.cfg.AutoCommit && uncommitted {
			s.commit(context.WithoutCancel(ctx))
		}
	} else {
		s.logger.Error("sink stopping on fatal error", logging.Error(fatal))
	}

	var closeErrs []error
	if err := s.writer.CloseAll(); err != nil {
		closeErrs = append(closeErrs, fmt.Errorf("close partitions: %w", err))
	}
	if err := s.feed.Close(); err != nil {
		closeErrs = append(closeErrs, fmt.Errorf("close feed: %w", err))
	}
	s.state.Store(int32(StateStopped))

	stats := s.Stats()
	attrs := []any{
		slog.Uint64("polled", stats.Polled),
		slog.Uint64("written", stats.Written),
		slog.Uint64("dropped", stats.Dropped),
	}
	if s.dlq != nil {
		attrs = append(attrs, slog.Uint64("dead_lettered", s.dlq.Written()))
	}
	s.logger.Info("sink stopped", attrs...)

	return errors.Join(append([]error{fatal}, closeErrs...)...)
}

// poll runs one bounded poll that shutdown cannot interrupt.
func (s *Sink) poll(ctx context.Context) ([]messaging.Record, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*s.cfg.PollTimeout)
	defer cancel()

	start := time.Now()
	records, err := s.feed.Poll(pctx, s.cfg.PollTimeout)
	metrics.PollDuration.Observe(time.Since(start).Seconds())
	s.polled.Add(uint64(len(records)))
	metrics.RecordsPolled.Add(float64(len(records)))
	return records, err
}

// process lands one batch and returns how many records were written and
// dropped. Any returned error is fatal.
func (s *Sink) process(ctx context.Context, records []messaging.Record) (n, dropped int, err error) {
	// Work started on a batch finishes even if shutdown begins meanwhile.
	wctx := context.WithoutCancel(ctx)

	for _, rec := range records {
		if s.store != nil {
			if s.partition < 0 {
				s.partition = rec.Partition
			} else if rec.Partition != s.partition {
				return n, dropped, fmt.Errorf("%w: saw %d after %d", ErrMultiplePartitions, rec.Partition, s.partition)
			}
		}

		key, reason, cause := classify(rec.Value)
		if reason != "" {
			s.drop(wctx, rec, reason, cause)
			dropped++
			continue
		}

		if err := s.writer.Write(key, rec.Value); err != nil {
			return n, dropped, fmt.Errorf("write partition %s at offset %d: %w", key, rec.Offset, err)
		}
		n++
		total := s.written.Add(1)
		metrics.RecordsWritten.WithLabelValues(key).Inc()

		if s.store != nil {
			next := rec.Offset + 1
			if err := s.store.Save(wctx, next); err != nil {
				return n, dropped, fmt.Errorf("save checkpoint %d: %w", next, err)
			}
			metrics.CheckpointOffset.Set(float64(next))
		}

		if s.cfg.ProgressEvery > 0 && total%uint64(s.cfg.ProgressEvery) == 0 {
			s.logger.Info("sink progress",
				slog.Uint64("written", total),
				slog.Uint64("dropped", s.dropped.Load()),
				logging.Offset(rec.Offset))
		}
	}
	return n, dropped, nil
}

// classify derives the partition key for a record value, or the reason the
// record cannot be partitioned.
func classify(value []byte) (key, reason string, cause error) {
	env, err := models.DecodeEnvelope(value)
	if err != nil {
		if errors.Is(err, models.ErrNotObject) {
			return "", dlq.ReasonNotObject, err
		}
		return "", dlq.ReasonInvalidJSON, err
	}

	if _, present := env.Raw(models.FieldIngestTime); !present {
		return "", dlq.ReasonMissingIngestTime, nil
	}
	ingestTime, ok := env.String(models.FieldIngestTime)
	if !ok {
		return "", dlq.ReasonBadIngestTime, errors.New("ingest_time is not a string")
	}
	key, err = partition.KeyFromIngestTime(ingestTime)
	if err != nil {
		if errors.Is(err, partition.ErrEmptyTimestamp) {
			return "", dlq.ReasonMissingIngestTime, nil
		}
		return "", dlq.ReasonBadIngestTime, err
	}
	return key, "", nil
}

func (s *Sink) drop(ctx context.Context, rec messaging.Record, reason string, cause error) {
	s.dropped.Add(1)
	metrics.RecordsDropped.WithLabelValues(reason).Inc()
	s.logger.Debug("dropped record", logging.Reason(reason), logging.FeedPartition(rec.Partition), logging.Offset(rec.Offset))

	if s.dlq == nil {
		return
	}
	entry := dlq.DroppedRecord{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Reason:    reason,
		Value:     string(rec.Value),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := s.dlq.Write(ctx, entry); err != nil {
		metrics.DLQWrites.WithLabelValues("error").Inc()
		s.logger.Warn("dlq write failed", logging.Reason(reason), logging.Offset(rec.Offset), logging.Error(err))
		return
	}
	metrics.DLQWrites.WithLabelValues("ok").Inc()
}

// commit commits the feed and reports whether it succeeded. Failures are
// not fatal: the records stay uncommitted and are replayed after a restart.
func (s *Sink) commit(ctx context.Context) bool {
	if err := s.feed.Commit(ctx); err != nil {
		metrics.Commits.WithLabelValues("error").Inc()
		s.logger.Warn("feed commit failed", logging.Error(err))
		return false
	}
	metrics.Commits.WithLabelValues("ok").Inc()
	return true
}

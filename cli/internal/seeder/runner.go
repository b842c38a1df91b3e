package seeder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/telhawk-systems/telhawk-lake/common/logging"
	"github.com/telhawk-systems/telhawk-lake/common/messaging"
)

// Result counts what a Run published.
type Result struct {
	Sent       int `json:"sent" yaml:"sent"`
	Valid      int `json:"valid" yaml:"valid"`
	Duplicates int `json:"duplicates" yaml:"duplicates"`
	Bad        int `json:"bad" yaml:"bad"`
	Failed     int `json:"failed" yaml:"failed"`
}

// Runner publishes generated messages to one topic.
type Runner struct {
	gen    *Generator
	pub    messaging.Publisher
	topic  string
	logger *slog.Logger
}

// NewRunner returns a Runner.
func NewRunner(gen *Generator, pub messaging.Publisher, topic string, logger *slog.Logger) *Runner {
	return &Runner{
		gen:    gen,
		pub:    pub,
		topic:  topic,
		logger: logging.OrDefault(logger).With(logging.Component("seeder"), logging.Topic(topic)),
	}
}

// Run publishes count messages. Publish failures are counted and logged;
// Run only fails when the context ends or nothing could be published.
func (r *Runner) Run(ctx context.Context, count int) (Result, error) {
	var res Result
	var lastErr error
	progress := max(count/20, 1000)

	for i := range count {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		msg := r.gen.Next(i, count)
		if err := r.pub.Publish(ctx, r.topic, []byte(msg.Key), msg.Value); err != nil {
			res.Failed++
			lastErr = err
			r.logger.Warn("publish failed", logging.Error(err))
			continue
		}
		res.Sent++
		switch msg.Kind {
		case KindValid:
			res.Valid++
		case KindDuplicate:
			res.Duplicates++
		case KindBad:
			res.Bad++
		}
		if res.Sent%progress == 0 {
			r.logger.Info("seeding progress", slog.Int("sent", res.Sent), slog.Int("total", count))
		}
	}

	if res.Sent == 0 && lastErr != nil {
		return res, fmt.Errorf("no messages published: %w", lastErr)
	}
	return res, nil
}

// LinePublisher writes each message value as one line. It stands in for a
// broker when seeding to stdout or a file.
type LinePublisher struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLinePublisher returns a LinePublisher on w.
func NewLinePublisher(w io.Writer) *LinePublisher {
	return &LinePublisher{w: w}
}

func (p *LinePublisher) Publish(_ context.Context, _ string, _ []byte, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(value); err != nil {
		return err
	}
	_, err := p.w.Write([]byte{'\n'})
	return err
}

func (p *LinePublisher) Close() error { return nil }

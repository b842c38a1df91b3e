package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/telhawk-systems/telhawk-lake/common/messaging"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.URL)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestConfigOptions_Auth(t *testing.T) {
	base := len(DefaultConfig().options(nil))

	cfg := DefaultConfig()
	cfg.Username, cfg.Password = "lake", "secret"
	assert.Len(t, cfg.options(nil), base+1)

	cfg.Token = "tok"
	assert.Len(t, cfg.options(nil), base+2)

	cfg = DefaultConfig()
	cfg.Username = "lake"
	assert.Len(t, cfg.options(nil), base, "username without password is ignored")
}

func TestConsumerConfig(t *testing.T) {
	opts := messaging.FeedOptions{
		Topic:          "lake.events.raw",
		Group:          "raw-sink",
		Reset:          messaging.ResetEarliest,
		MaxPollRecords: 100,
	}

	cfg := consumerConfig(opts)
	assert.Equal(t, "raw-sink", cfg.Durable)
	assert.Equal(t, "lake.events.raw", cfg.FilterSubject)
	assert.Equal(t, jetstream.DeliverAllPolicy, cfg.DeliverPolicy)
	assert.Equal(t, jetstream.AckAllPolicy, cfg.AckPolicy)
	assert.Equal(t, 400, cfg.MaxAckPending)

	opts.Reset = messaging.ResetLatest
	assert.Equal(t, jetstream.DeliverNewPolicy, consumerConfig(opts).DeliverPolicy)
}

func TestOrderedConfig(t *testing.T) {
	start := int64(42)
	cfg := orderedConfig(messaging.FeedOptions{Topic: "lake.events.raw", StartOffset: &start})
	assert.Equal(t, jetstream.DeliverByStartSequencePolicy, cfg.DeliverPolicy)
	assert.Equal(t, uint64(42), cfg.OptStartSeq)
	assert.Equal(t, []string{"lake.events.raw"}, cfg.FilterSubjects)

	zero := int64(0)
	cfg = orderedConfig(messaging.FeedOptions{Topic: "lake.events.raw", StartOffset: &zero})
	assert.Equal(t, jetstream.DeliverAllPolicy, cfg.DeliverPolicy)
	assert.Zero(t, cfg.OptStartSeq)
}

func TestPredefinedStreams(t *testing.T) {
	for _, s := range []StreamConfig{EventsStream, DLQStream} {
		assert.NotEmpty(t, s.Name)
		assert.NotEmpty(t, s.Subjects)
		assert.Equal(t, jetstream.LimitsPolicy, s.Retention)
	}
	assert.Contains(t, EventsStream.Subjects[0], "lake.events")
}

func TestEventsStreamFor(t *testing.T) {
	cfg := EventsStreamFor("CUSTOM", "lake.events.custom")
	assert.Equal(t, "CUSTOM", cfg.Name)
	assert.Equal(t, []string{"lake.events.custom"}, cfg.Subjects)
	assert.Equal(t, EventsStream.MaxAge, cfg.MaxAge)

	assert.Equal(t, EventsStream.Name, EventsStreamFor("", "").Name)
	assert.Equal(t, []string{"lake.events.>"}, EventsStream.Subjects, "predefined config is not mutated")
}

func TestFeed_RedeliversUncommitted(t *testing.T) {
	assert.True(t, (&Feed{}).RedeliversUncommitted(), "durable consumer holds acks until Commit")
	assert.False(t, (&Feed{ordered: true}).RedeliversUncommitted())
	assert.False(t, (&Feed{opts: messaging.FeedOptions{AutoCommit: true}}).RedeliversUncommitted())
}

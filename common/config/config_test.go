package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "kafka", cfg.Feed.Backend)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Feed.Brokers)
	assert.Equal(t, "earliest", cfg.Feed.AutoOffsetReset)
	assert.Equal(t, time.Second, cfg.Feed.PollTimeout)
	assert.Equal(t, 2*time.Second, cfg.Sink.CommitInterval)
	assert.True(t, cfg.Sink.ResumeSequence)
	assert.False(t, cfg.Sink.Fsync)
	assert.Equal(t, 5000, cfg.Sink.ProgressEvery)
	assert.Equal(t, "replace", cfg.Compaction.OutputMode)
	assert.Equal(t, 250000, cfg.Compaction.RowsPerFile)
	assert.Equal(t, "none", cfg.Checkpoint.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
feed:
  backend: jetstream
  topic: lake.events.raw
sink:
  out_dir: /tmp/lake/raw
  roll_max_mb: 8
  roll_max_seconds: 30
compaction:
  rows_per_file: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("LAKE_SINK_ROLL_MAX_SECONDS", "45")
	t.Setenv("LAKE_COMPACTION_OUTPUT_MODE", "append")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "jetstream", cfg.Feed.Backend)
	assert.Equal(t, "lake.events.raw", cfg.Feed.Topic)
	assert.Equal(t, "/tmp/lake/raw", cfg.Sink.OutDir)
	assert.Equal(t, int64(8*1024*1024), cfg.Sink.RollMaxBytes())
	assert.Equal(t, 45*time.Second, cfg.Sink.RollMaxAge())
	assert.Equal(t, 1000, cfg.Compaction.RowsPerFile)
	assert.Equal(t, "append", cfg.Compaction.OutputMode)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("feed: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("LAKE_CONFIG_DIR", "/opt/lake")
	assert.Equal(t, "/opt/lake/config.yaml", DefaultPath())

	t.Setenv("LAKE_CONFIG_DIR", "")
	assert.Equal(t, "/etc/telhawk-lake/config.yaml", DefaultPath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Feed.Backend = "pulsar" }, "feed.backend"},
		{"no brokers", func(c *Config) { c.Feed.Brokers = nil }, "feed.brokers"},
		{"jetstream without stream", func(c *Config) {
			c.Feed.Backend = "jetstream"
			c.NATS.Stream = ""
		}, "nats.stream"},
		{"bad reset", func(c *Config) { c.Feed.AutoOffsetReset = "smallest" }, "auto_offset_reset"},
		{"zero roll size", func(c *Config) { c.Sink.RollMaxMB = 0 }, "roll_max_mb"},
		{"zero roll age", func(c *Config) { c.Sink.RollMaxSeconds = 0 }, "roll_max_seconds"},
		{"file checkpoint without path", func(c *Config) {
			c.Checkpoint.Backend = "file"
			c.Checkpoint.File = ""
		}, "checkpoint.file"},
		{"unknown checkpoint", func(c *Config) { c.Checkpoint.Backend = "etcd" }, "checkpoint.backend"},
		{"unknown dlq", func(c *Config) {
			c.DLQ.Enabled = true
			c.DLQ.Backend = "s3"
		}, "dlq.backend"},
		{"bad output mode", func(c *Config) { c.Compaction.OutputMode = "merge" }, "output_mode"},
		{"zero workers", func(c *Config) { c.Compaction.Workers = 0 }, "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_UnknownBackendSentinel(t *testing.T) {
	cfg := Default()
	cfg.Checkpoint.Backend = "etcd"
	assert.ErrorIs(t, cfg.Validate(), ErrUnknownBackend)
}

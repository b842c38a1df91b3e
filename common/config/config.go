// Package config provides centralized configuration for the lake sink, the
// compaction job and the lakectl CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (LAKE_SINK_OUT_DIR, ...).
const EnvPrefix = "LAKE"

// ErrUnknownBackend is returned when a backend selector names nothing the
// lake can build.
var ErrUnknownBackend = errors.New("unknown backend")

// Config is the master configuration struct shared by every lake binary.
type Config struct {
	Feed       FeedConfig       `mapstructure:"feed" yaml:"feed"`
	NATS       NATSConfig       `mapstructure:"nats" yaml:"nats"`
	Sink       SinkConfig       `mapstructure:"sink" yaml:"sink"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	DLQ        DLQConfig        `mapstructure:"dlq" yaml:"dlq"`
	Compaction CompactionConfig `mapstructure:"compaction" yaml:"compaction"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// FeedConfig selects and configures the message feed the sink consumes.
type FeedConfig struct {
	Backend          string        `mapstructure:"backend" yaml:"backend"` // "kafka" or "jetstream"
	Brokers          []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic            string        `mapstructure:"topic" yaml:"topic"`
	Group            string        `mapstructure:"group" yaml:"group"`
	AutoOffsetReset  string        `mapstructure:"auto_offset_reset" yaml:"auto_offset_reset"`
	EnableAutoCommit bool          `mapstructure:"enable_auto_commit" yaml:"enable_auto_commit"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	MaxPollRecords   int           `mapstructure:"max_poll_records" yaml:"max_poll_records"`
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Stream        string        `mapstructure:"stream" yaml:"stream"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
}

// SinkConfig holds raw sink settings.
type SinkConfig struct {
	OutDir         string        `mapstructure:"out_dir" yaml:"out_dir"`
	RollMaxMB      int           `mapstructure:"roll_max_mb" yaml:"roll_max_mb"`
	RollMaxSeconds int           `mapstructure:"roll_max_seconds" yaml:"roll_max_seconds"`
	CommitInterval time.Duration `mapstructure:"commit_interval" yaml:"commit_interval"`
	ResumeSequence bool          `mapstructure:"resume_sequence" yaml:"resume_sequence"`
	Fsync          bool          `mapstructure:"fsync" yaml:"fsync"`
	ProgressEvery  int           `mapstructure:"progress_every" yaml:"progress_every"`
}

// RollMaxBytes returns the size roll threshold in bytes.
func (s SinkConfig) RollMaxBytes() int64 {
	return int64(s.RollMaxMB) * 1024 * 1024
}

// RollMaxAge returns the age roll threshold.
func (s SinkConfig) RollMaxAge() time.Duration {
	return time.Duration(s.RollMaxSeconds) * time.Second
}

// CheckpointConfig selects where the sink stores its resume offset.
type CheckpointConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"` // "none", "file" or "redis"
	File     string `mapstructure:"file" yaml:"file"`
	RedisKey string `mapstructure:"redis_key" yaml:"redis_key"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// DLQConfig holds dead letter queue configuration
type DLQConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Backend  string `mapstructure:"backend" yaml:"backend"`     // "file" (default) or "jetstream"
	BasePath string `mapstructure:"base_path" yaml:"base_path"` // Only used for file backend
}

// CompactionConfig holds compaction job settings.
type CompactionConfig struct {
	RawDir       string `mapstructure:"raw_dir" yaml:"raw_dir"`
	OutDir       string `mapstructure:"out_dir" yaml:"out_dir"`
	RowsPerFile  int    `mapstructure:"rows_per_file" yaml:"rows_per_file"`
	OutputMode   string `mapstructure:"output_mode" yaml:"output_mode"` // "replace" or "append"
	Workers      int    `mapstructure:"workers" yaml:"workers"`
	MaxLineBytes int    `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultPath returns $LAKE_CONFIG_DIR/config.yaml, or the system default.
func DefaultPath() string {
	configDir := os.Getenv("LAKE_CONFIG_DIR")
	if configDir == "" {
		configDir = "/etc/telhawk-lake"
	}
	return filepath.Join(configDir, "config.yaml")
}

// Load reads configuration from path (DefaultPath when empty) and
// environment variables. A missing file is not an error; the defaults and
// the environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets all default configuration values
func setDefaults(v *viper.Viper) {
	// Feed defaults
	v.SetDefault("feed.backend", "kafka")
	v.SetDefault("feed.brokers", []string{"localhost:9092"})
	v.SetDefault("feed.topic", "events")
	v.SetDefault("feed.group", "raw-sink")
	v.SetDefault("feed.auto_offset_reset", "earliest")
	v.SetDefault("feed.enable_auto_commit", false)
	v.SetDefault("feed.poll_timeout", "1s")
	v.SetDefault("feed.max_poll_records", 500)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "LAKE_EVENTS")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	// Sink defaults
	v.SetDefault("sink.out_dir", "data/raw")
	v.SetDefault("sink.roll_max_mb", 128)
	v.SetDefault("sink.roll_max_seconds", 300)
	v.SetDefault("sink.commit_interval", "2s")
	v.SetDefault("sink.resume_sequence", true)
	v.SetDefault("sink.fsync", false)
	v.SetDefault("sink.progress_every", 5000)

	// Checkpoint defaults
	v.SetDefault("checkpoint.backend", "none")
	v.SetDefault("checkpoint.file", "data/checkpoints/raw-sink.offset")
	v.SetDefault("checkpoint.redis_key", "")

	// Redis defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")

	// DLQ defaults
	v.SetDefault("dlq.enabled", false)
	v.SetDefault("dlq.backend", "file")
	v.SetDefault("dlq.base_path", "data/dlq")

	// Compaction defaults
	v.SetDefault("compaction.raw_dir", "data/raw")
	v.SetDefault("compaction.out_dir", "data/compacted")
	v.SetDefault("compaction.rows_per_file", 250000)
	v.SetDefault("compaction.output_mode", "replace")
	v.SetDefault("compaction.workers", 1)
	v.SetDefault("compaction.max_line_bytes", 16*1024*1024)

	// Server defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configurations the lake cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Feed.Backend {
	case "kafka":
		if len(c.Feed.Brokers) == 0 {
			errs = append(errs, errors.New("feed.brokers must not be empty for the kafka backend"))
		}
	case "jetstream":
		if c.NATS.URL == "" || c.NATS.Stream == "" {
			errs = append(errs, errors.New("nats.url and nats.stream are required for the jetstream backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: feed.backend %q is not one of kafka, jetstream", ErrUnknownBackend, c.Feed.Backend))
	}
	if c.Feed.Topic == "" {
		errs = append(errs, errors.New("feed.topic is required"))
	}
	if c.Feed.Group == "" {
		errs = append(errs, errors.New("feed.group is required"))
	}
	if r := c.Feed.AutoOffsetReset; r != "earliest" && r != "latest" {
		errs = append(errs, fmt.Errorf("feed.auto_offset_reset %q is not one of earliest, latest", r))
	}
	if c.Feed.PollTimeout <= 0 {
		errs = append(errs, errors.New("feed.poll_timeout must be positive"))
	}

	if c.Sink.OutDir == "" {
		errs = append(errs, errors.New("sink.out_dir is required"))
	}
	if c.Sink.RollMaxMB <= 0 {
		errs = append(errs, errors.New("sink.roll_max_mb must be positive"))
	}
	if c.Sink.RollMaxSeconds <= 0 {
		errs = append(errs, errors.New("sink.roll_max_seconds must be positive"))
	}
	if c.Sink.CommitInterval < 0 {
		errs = append(errs, errors.New("sink.commit_interval must not be negative"))
	}

	switch c.Checkpoint.Backend {
	case "none", "":
	case "file":
		if c.Checkpoint.File == "" {
			errs = append(errs, errors.New("checkpoint.file is required for the file backend"))
		}
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis checkpoint backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: checkpoint.backend %q is not one of none, file, redis", ErrUnknownBackend, c.Checkpoint.Backend))
	}

	if c.DLQ.Enabled {
		switch c.DLQ.Backend {
		case "file":
			if c.DLQ.BasePath == "" {
				errs = append(errs, errors.New("dlq.base_path is required for the file backend"))
			}
		case "jetstream":
		default:
			errs = append(errs, fmt.Errorf("%w: dlq.backend %q is not one of file, jetstream", ErrUnknownBackend, c.DLQ.Backend))
		}
	}

	if c.Compaction.RowsPerFile <= 0 {
		errs = append(errs, errors.New("compaction.rows_per_file must be positive"))
	}
	if m := c.Compaction.OutputMode; m != "replace" && m != "append" {
		errs = append(errs, fmt.Errorf("compaction.output_mode %q is not one of replace, append", m))
	}
	if c.Compaction.Workers <= 0 {
		errs = append(errs, errors.New("compaction.workers must be positive"))
	}

	return errors.Join(errs...)
}

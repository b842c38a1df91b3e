package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telhawk-systems/telhawk-lake/common/checkpoint"
	"github.com/telhawk-systems/telhawk-lake/common/config"
	"github.com/telhawk-systems/telhawk-lake/common/logging"
	"github.com/telhawk-systems/telhawk-lake/common/messaging"
	"github.com/telhawk-systems/telhawk-lake/common/messaging/kafka"
	"github.com/telhawk-systems/telhawk-lake/common/dlq"
	"github.com/telhawk-systems/telhawk-lake/sink/internal/metrics"
	"github.com/telhawk-systems/telhawk-lake/sink/internal/server"
	"github.com/telhawk-systems/telhawk-lake/sink/internal/service"
	"github.com/telhawk-systems/telhawk-lake/sink/internal/writer"

	natsclient "github.com/telhawk-systems/telhawk-lake/common/messaging/nats"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("sink"))
	logging.SetDefault(logger)

	slog.Info("Starting raw sink",
		logging.FeedBackend(cfg.Feed.Backend),
		logging.Topic(cfg.Feed.Topic),
		slog.String("group", cfg.Feed.Group),
		logging.Path(cfg.Sink.OutDir),
		slog.Int("roll_max_mb", cfg.Sink.RollMaxMB),
		slog.Int("roll_max_seconds", cfg.Sink.RollMaxSeconds),
	)

	if err := run(cfg, logger.Logger); err != nil {
		slog.Error("Raw sink failed", logging.Error(err))
		os.Exit(1)
	}
	slog.Info("Raw sink stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Checkpoint store
	store, closeStore, err := checkpoint.Open(cfg)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer closeStore()

	start, err := service.ResumeOffset(ctx, store)
	if err != nil {
		return err
	}
	if start != nil {
		slog.Info("Resuming from checkpoint", logging.Offset(*start))
	}

	// Feed
	feed, err := openFeed(ctx, cfg, start, logger)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}

	// Dead Letter Queue
	queue, closeQueue, err := openDLQ(ctx, cfg, logger)
	if err != nil {
		_ = feed.Close()
		return fmt.Errorf("open dlq: %w", err)
	}
	defer closeQueue()

	w := writer.New(cfg.Sink.OutDir,
		writer.RollPolicy{MaxBytes: cfg.Sink.RollMaxBytes(), MaxAge: cfg.Sink.RollMaxAge()},
		writer.WithFsync(cfg.Sink.Fsync),
		writer.WithResumeScan(cfg.Sink.ResumeSequence),
		writer.WithLogger(logger),
		writer.WithOpenHook(func(key, path string, seq int) {
			metrics.FilesOpened.Inc()
			logger.Info("Opened raw part file", logging.Partition(key), logging.Path(path), logging.Sequence(seq))
		}),
	)

	opts := []service.Option{service.WithLogger(logger)}
	if store != nil {
		opts = append(opts, service.WithCheckpoint(store))
	}
	if queue != nil {
		opts = append(opts, service.WithDLQ(queue))
	}
	sink := service.New(feed, w, service.Config{
		PollTimeout:    cfg.Feed.PollTimeout,
		CommitInterval: cfg.Sink.CommitInterval,
		AutoCommit:     cfg.Feed.EnableAutoCommit,
		ProgressEvery:  cfg.Sink.ProgressEvery,
	}, opts...)

	// Operational HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(sink, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		slog.Info("Sink ops server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Ops server error", logging.Error(err))
		}
	}()

	runErr := sink.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Ops server forced to shutdown", logging.Error(err))
	}
	return runErr
}

func feedOptions(cfg *config.Config, start *int64) (messaging.FeedOptions, error) {
	reset, err := messaging.ParseResetPolicy(cfg.Feed.AutoOffsetReset)
	if err != nil {
		return messaging.FeedOptions{}, err
	}
	return messaging.FeedOptions{
		Topic:          cfg.Feed.Topic,
		Group:          cfg.Feed.Group,
		Reset:          reset,
		AutoCommit:     cfg.Feed.EnableAutoCommit,
		MaxPollRecords: cfg.Feed.MaxPollRecords,
		StartOffset:    start,
	}, nil
}

func openFeed(ctx context.Context, cfg *config.Config, start *int64, logger *slog.Logger) (messaging.Feed, error) {
	opts, err := feedOptions(cfg, start)
	if err != nil {
		return nil, err
	}

	switch cfg.Feed.Backend {
	case "kafka":
		kcfg := kafka.DefaultConfig()
		kcfg.Brokers = cfg.Feed.Brokers
		return kafka.NewFeed(kcfg, opts, logger)
	case "jetstream":
		js, err := connectJetStream(cfg, "lake-sink", logger)
		if err != nil {
			return nil, err
		}
		if _, err := js.CreateOrUpdateStream(ctx, natsclient.EventsStreamFor(cfg.NATS.Stream, cfg.Feed.Topic)); err != nil {
			_ = js.Close()
			return nil, err
		}
		feed, err := js.NewFeed(ctx, cfg.NATS.Stream, opts)
		if err != nil {
			_ = js.Close()
			return nil, err
		}
		return feed, nil
	default:
		return nil, fmt.Errorf("%w: feed backend %q", config.ErrUnknownBackend, cfg.Feed.Backend)
	}
}

func openDLQ(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dlq.Queue, func() error, error) {
	noop := func() error { return nil }
	if !cfg.DLQ.Enabled {
		slog.Info("Dead Letter Queue disabled")
		return nil, noop, nil
	}

	switch cfg.DLQ.Backend {
	case "file", "":
		q, err := dlq.NewFileQueue(cfg.DLQ.BasePath, logger)
		if err != nil {
			return nil, noop, err
		}
		slog.Info("Dead Letter Queue enabled", slog.String("backend", "file"), logging.Path(cfg.DLQ.BasePath))
		return q, noop, nil
	case "jetstream":
		js, err := connectJetStream(cfg, "lake-sink-dlq", logger)
		if err != nil {
			return nil, noop, err
		}
		if _, err := js.CreateOrUpdateStream(ctx, natsclient.DLQStream); err != nil {
			_ = js.Close()
			return nil, noop, err
		}
		q, err := dlq.NewJetStreamQueue(js)
		if err != nil {
			_ = js.Close()
			return nil, noop, err
		}
		slog.Info("Dead Letter Queue enabled", slog.String("backend", "jetstream"), slog.String("nats", cfg.NATS.URL))
		return q, js.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: dlq backend %q", config.ErrUnknownBackend, cfg.DLQ.Backend)
	}
}

func connectJetStream(cfg *config.Config, name string, logger *slog.Logger) (*natsclient.JetStreamClient, error) {
	ncfg := natsclient.DefaultConfig()
	ncfg.URL = cfg.NATS.URL
	ncfg.Name = name
	ncfg.MaxReconnects = cfg.NATS.MaxReconnects
	ncfg.ReconnectWait = cfg.NATS.ReconnectWait

	client, err := natsclient.NewClient(ncfg, logger)
	if err != nil {
		return nil, err
	}
	js, err := natsclient.NewJetStreamClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return js, nil
}

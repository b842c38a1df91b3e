package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-lake/cli/internal/seeder"
	"github.com/telhawk-systems/telhawk-lake/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-lake/common/messaging"
	"github.com/telhawk-systems/telhawk-lake/common/messaging/kafka"
	natsclient "github.com/telhawk-systems/telhawk-lake/common/messaging/nats"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish fake events to the feed",
	Long: `Generate fake envelopes and publish them to the configured feed, or print
them as NDJSON. A share of the events can repeat earlier event_ids or carry
an unusable ingest_time, to exercise deduplication and the drop path.`,
	Example: `  lakectl seed --count 1000 --target stdout > events.ndjson
  lakectl seed --count 50000 --target kafka --dup-rate 0.05 --bad-rate 0.01
  lakectl seed --target jetstream --spread 72h`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().Int("count", 1000, "number of messages to publish")
	seedCmd.Flags().String("target", "stdout", "where to publish: kafka, jetstream, stdout")
	seedCmd.Flags().String("topic", "", "topic or subject (default: feed.topic)")
	seedCmd.Flags().Float64("dup-rate", 0, "fraction of messages that repeat an earlier event")
	seedCmd.Flags().Float64("bad-rate", 0, "fraction of messages the sink will drop")
	seedCmd.Flags().Duration("spread", 0, "spread ingest times over this window ending now")
	seedCmd.Flags().Int64("seed", 0, "random seed (default: time based)")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	count, _ := cmd.Flags().GetInt("count")
	target, _ := cmd.Flags().GetString("target")
	topic, _ := cmd.Flags().GetString("topic")
	dupRate, _ := cmd.Flags().GetFloat64("dup-rate")
	badRate, _ := cmd.Flags().GetFloat64("bad-rate")
	spread, _ := cmd.Flags().GetDuration("spread")
	seed, _ := cmd.Flags().GetInt64("seed")

	if count < 0 {
		return fmt.Errorf("--count must not be negative")
	}
	if dupRate < 0 || badRate < 0 || dupRate+badRate > 1 {
		return fmt.Errorf("--dup-rate and --bad-rate must be non-negative and sum to at most 1")
	}
	if topic == "" {
		topic = cfg.Feed.Topic
	}

	pub, err := openPublisher(cmd, target)
	if err != nil {
		return err
	}
	defer pub.Close()

	gen := seeder.NewGenerator(seeder.Options{
		DupRate:    dupRate,
		BadRate:    badRate,
		TimeSpread: spread,
		Seed:       seed,
	})
	start := time.Now()
	res, err := seeder.NewRunner(gen, pub, topic, logger.Logger).Run(cmd.Context(), count)
	if err != nil {
		return err
	}
	if target == "stdout" {
		return nil
	}

	p, err := printer(cmd)
	if err != nil {
		return err
	}
	if p.Format() != output.FormatTable {
		return p.Print(res, nil)
	}
	p.Success("Published %d messages to %s %q in %s", res.Sent, target, topic, time.Since(start).Round(time.Millisecond))
	p.Info("  valid: %d  duplicates: %d  bad: %d  failed: %d", res.Valid, res.Duplicates, res.Bad, res.Failed)
	return nil
}

func openPublisher(cmd *cobra.Command, target string) (messaging.Publisher, error) {
	switch target {
	case "stdout":
		return seeder.NewLinePublisher(cmd.OutOrStdout()), nil
	case "kafka":
		kcfg := kafka.DefaultConfig()
		kcfg.Brokers = cfg.Feed.Brokers
		kcfg.ClientID = "lakectl"
		return kafka.NewPublisher(kcfg)
	case "jetstream":
		ncfg := natsclient.DefaultConfig()
		ncfg.URL = cfg.NATS.URL
		ncfg.Name = "lakectl-seed"
		client, err := natsclient.NewClient(ncfg, logger.Logger)
		if err != nil {
			return nil, err
		}
		js, err := natsclient.NewJetStreamClient(client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		if _, err := js.CreateOrUpdateStream(cmd.Context(), natsclient.EventsStreamFor(cfg.NATS.Stream, cfg.Feed.Topic)); err != nil {
			_ = js.Close()
			return nil, err
		}
		return js, nil
	default:
		return nil, fmt.Errorf("unknown target %q (want kafka, jetstream or stdout)", target)
	}
}

package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-lake/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-lake/common/dlq"
)

var errDLQNotFile = errors.New("dlq commands need dlq.backend file (JetStream entries live in the DLQ stream)")

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect or clear the sink's dead-letter queue",
	Long:  "Records the sink could not partition are kept in the dead-letter queue with the reason they were dropped.",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dropped records",
	Example: `  lakectl dlq list
  lakectl dlq list --limit 20 --output json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := printer(cmd)
		if err != nil {
			return err
		}
		q, err := openFileDLQ()
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		records, err := q.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if records == nil {
			records = []dlq.DroppedRecord{}
		}
		if len(records) == 0 && p.Format() == output.FormatTable {
			p.Info("Dead-letter queue at %s is empty", cfg.DLQ.BasePath)
			return nil
		}

		return p.Print(records, func() *output.Table {
			t := output.NewTable("TIME", "TOPIC", "PARTITION", "OFFSET", "REASON", "VALUE")
			for _, r := range records {
				t.AddRow(r.Timestamp.Format(time.RFC3339), r.Topic, strconv.Itoa(r.Partition),
					strconv.FormatInt(r.Offset, 10), r.Reason, truncate(r.Value, 60))
			}
			return t
		})
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every dropped record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := printer(cmd)
		if err != nil {
			return err
		}
		q, err := openFileDLQ()
		if err != nil {
			return err
		}
		n, err := q.Purge(cmd.Context())
		if err != nil {
			return fmt.Errorf("purge dlq: %w", err)
		}
		p.Success("Purged %d dropped records from %s", n, cfg.DLQ.BasePath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)
	dlqListCmd.Flags().Int("limit", 0, "show at most N records (0 = all)")
}

func openFileDLQ() (*dlq.FileQueue, error) {
	if cfg.DLQ.Backend != "" && cfg.DLQ.Backend != "file" {
		return nil, errDLQNotFile
	}
	return dlq.NewFileQueue(cfg.DLQ.BasePath, logger.Logger)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

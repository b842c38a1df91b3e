package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-lake/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-lake/compactor"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact raw partitions into Parquet",
	Long: `Read the raw NDJSON files of one or all ingest_date partitions, normalize
and deduplicate them on event_id, and write zstd-compressed Parquet files.`,
	Example: `  lakectl compact --date 2026-02-05
  lakectl compact --all --workers 4
  lakectl compact --all --mode append --rows-per-file 100000`,
	RunE: runCompact,
}

func init() {
	rootCmd.AddCommand(compactCmd)

	compactCmd.Flags().String("date", "", "compact one partition (YYYY-MM-DD)")
	compactCmd.Flags().Bool("all", false, "compact every raw partition")
	compactCmd.Flags().Int("rows-per-file", 0, "rows per Parquet file (default from config)")
	compactCmd.Flags().String("mode", "", "output mode: replace or append (default from config)")
	compactCmd.Flags().Int("workers", 0, "partitions compacted in parallel (default from config)")
	compactCmd.Flags().String("raw-dir", "", "raw input directory (default from config)")
	compactCmd.Flags().String("out-dir", "", "compacted output directory (default from config)")
	compactCmd.MarkFlagsMutuallyExclusive("date", "all")
	compactCmd.MarkFlagsOneRequired("date", "all")
}

func runCompact(cmd *cobra.Command, _ []string) error {
	p, err := printer(cmd)
	if err != nil {
		return err
	}

	date, _ := cmd.Flags().GetString("date")
	all, _ := cmd.Flags().GetBool("all")
	sel := compactor.Selector{Date: date, All: all}

	run := *cfg
	if n, _ := cmd.Flags().GetInt("rows-per-file"); n > 0 {
		run.Compaction.RowsPerFile = n
	}
	if m, _ := cmd.Flags().GetString("mode"); m != "" {
		run.Compaction.OutputMode = m
	}
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		run.Compaction.Workers = n
	}
	if d, _ := cmd.Flags().GetString("raw-dir"); d != "" {
		run.Compaction.RawDir = d
	}
	if d, _ := cmd.Flags().GetString("out-dir"); d != "" {
		run.Compaction.OutDir = d
	}

	reports, err := compactor.Run(cmd.Context(), &run, sel, logger.Logger)
	if len(reports) > 0 {
		if perr := p.Print(reports, func() *output.Table { return reportTable(reports) }); perr != nil {
			return perr
		}
	}
	if err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}
	if len(reports) == 0 {
		p.Info("No raw partitions found under %s", run.Compaction.RawDir)
	}
	return nil
}

func reportTable(reports []compactor.Report) *output.Table {
	t := output.NewTable("INGEST_DATE", "FILES_IN", "ROWS_READ", "MALFORMED", "DUPLICATES", "MISSING_ID", "ROWS_OUT", "FILES_OUT", "DURATION")
	for _, r := range reports {
		out := strconv.Itoa(len(r.OutputFiles))
		if r.Skipped {
			out = "skipped"
		}
		t.AddRow(
			r.IngestDate,
			strconv.Itoa(r.InputFiles),
			strconv.Itoa(r.RowsRead),
			strconv.Itoa(r.Malformed),
			strconv.Itoa(r.Duplicates),
			strconv.Itoa(r.MissingID),
			strconv.Itoa(r.RowsAfterDedup),
			out,
			r.Duration.Round(time.Millisecond).String(),
		)
	}
	return t
}

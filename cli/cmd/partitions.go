package cmd

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-lake/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-lake/common/partition"
)

type partitionInfo struct {
	IngestDate string `json:"ingest_date" yaml:"ingest_date"`
	Files      int    `json:"files" yaml:"files"`
	Bytes      int64  `json:"bytes" yaml:"bytes"`
}

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "List partitions and their files",
	Long:  "List the ingest_date partitions of the raw area, or of the compacted area with --compacted.",
	Example: `  lakectl partitions
  lakectl partitions --compacted --output json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := printer(cmd)
		if err != nil {
			return err
		}

		compacted, _ := cmd.Flags().GetBool("compacted")
		base, ext := cfg.Compaction.RawDir, partition.RawExt
		if compacted {
			base, ext = cfg.Compaction.OutDir, partition.ParquetExt
		}

		infos, err := listPartitions(base, ext)
		if err != nil {
			return err
		}
		if len(infos) == 0 && p.Format() == output.FormatTable {
			p.Info("No partitions under %s", base)
			return nil
		}

		return p.Print(infos, func() *output.Table {
			t := output.NewTable("INGEST_DATE", "FILES", "BYTES")
			for _, info := range infos {
				t.AddRow(info.IngestDate, strconv.Itoa(info.Files), strconv.FormatInt(info.Bytes, 10))
			}
			return t
		})
	},
}

func init() {
	rootCmd.AddCommand(partitionsCmd)
	partitionsCmd.Flags().Bool("compacted", false, "list compacted Parquet partitions instead of raw ones")
}

func listPartitions(base, ext string) ([]partitionInfo, error) {
	keys, err := partition.List(base)
	if err != nil {
		return nil, err
	}

	infos := make([]partitionInfo, 0, len(keys))
	for _, key := range keys {
		files, err := partition.Files(partition.Dir(base, key), ext)
		if err != nil {
			return nil, err
		}
		info := partitionInfo{IngestDate: key, Files: len(files)}
		for _, f := range files {
			if st, err := os.Stat(f); err == nil {
				info.Bytes += st.Size()
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

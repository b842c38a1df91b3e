// Package compactor is the entry point to raw-to-Parquet compaction for
// binaries outside the compactor tree.
package compactor

import (
	"context"
	"log/slog"

	"github.com/telhawk-systems/telhawk-lake/common/config"
	"github.com/telhawk-systems/telhawk-lake/common/models"
	"github.com/telhawk-systems/telhawk-lake/common/partition"
	"github.com/telhawk-systems/telhawk-lake/compactor/internal/job"
	"github.com/telhawk-systems/telhawk-lake/compactor/internal/parquet"
)

type (
	// Selector picks the partitions to compact: one Date or All.
	Selector = job.Selector
	// Report summarizes one compacted partition.
	Report = job.Report
	// Mode is the output mode for existing compacted files.
	Mode = job.Mode
)

const (
	ModeReplace = job.ModeReplace
	ModeAppend  = job.ModeAppend
)

var (
	ErrInvalidSelector = job.ErrInvalidSelector
	ErrUnknownMode     = job.ErrUnknownMode
)

// JobConfig maps the compaction section of cfg onto job settings.
func JobConfig(cfg *config.Config) job.Config {
	c := cfg.Compaction
	return job.Config{
		RawDir:       c.RawDir,
		OutDir:       c.OutDir,
		RowsPerFile:  c.RowsPerFile,
		Mode:         job.Mode(c.OutputMode),
		Workers:      c.Workers,
		MaxLineBytes: c.MaxLineBytes,
	}
}

// Run compacts the partitions sel names using cfg's compaction settings.
func Run(ctx context.Context, cfg *config.Config, sel Selector, logger *slog.Logger) ([]Report, error) {
	j, err := job.New(JobConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	return j.Run(ctx, sel)
}

// ReadPartition decodes the compacted rows of one partition under outDir.
func ReadPartition(outDir, key string) ([]models.Row, error) {
	return parquet.ReadPartition(partition.Dir(outDir, key))
}

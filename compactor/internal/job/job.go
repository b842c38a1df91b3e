// Package job runs compaction over raw partitions: every selected partition
// is read, normalized, deduplicated and written as Parquet.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/telhawk-lake/common/logging"
	"github.com/telhawk-systems/telhawk-lake/common/models"
	"github.com/telhawk-systems/telhawk-lake/common/partition"
	"github.com/telhawk-systems/telhawk-lake/compactor/internal/dedup"
	"github.com/telhawk-systems/telhawk-lake/compactor/internal/metrics"
	"github.com/telhawk-systems/telhawk-lake/compactor/internal/normalizer"
	"github.com/telhawk-systems/telhawk-lake/compactor/internal/parquet"
	"github.com/telhawk-systems/telhawk-lake/compactor/internal/reader"
)

var (
	// ErrInvalidSelector is returned unless exactly one of Date and All is set,
	// or when Date is not a YYYY-MM-DD key.
	ErrInvalidSelector = errors.New("invalid partition selector")

	// ErrUnknownMode is returned for an output mode other than replace or append.
	ErrUnknownMode = errors.New("unknown output mode")
)

// Mode decides what happens to existing compacted files in a partition.
type Mode string

const (
	// ModeReplace rewrites the partition's output from part-00000 and removes
	// any part files left over from earlier runs.
	ModeReplace Mode = "replace"
	// ModeAppend numbers new files after the highest existing part.
	ModeAppend Mode = "append"
)

// ParseMode parses an output mode. Empty selects ModeReplace.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeReplace:
		return ModeReplace, nil
	case ModeAppend:
		return ModeAppend, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Config holds compaction settings.
type Config struct {
	RawDir       string
	OutDir       string
	RowsPerFile  int
	Mode         Mode
	Workers      int
	MaxLineBytes int
}

// Selector picks the partitions to compact.
type Selector struct {
	Date string
	All  bool
}

// Validate checks that exactly one of Date and All is set.
func (s Selector) Validate() error {
	if (s.Date == "") == !s.All {
		return fmt.Errorf("%w: exactly one of date or all is required", ErrInvalidSelector)
	}
	if s.Date != "" && !partition.ValidKey(s.Date) {
		return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidSelector, s.Date)
	}
	return nil
}

// Report summarizes the compaction of one partition.
type Report struct {
	IngestDate      string        `json:"ingest_date" yaml:"ingest_date"`
	InputFiles      int           `json:"input_files" yaml:"input_files"`
	Malformed       int           `json:"malformed" yaml:"malformed"`
	RowsRead        int           `json:"rows_read" yaml:"rows_read"`
	RowsBeforeDedup int           `json:"rows_before_dedup" yaml:"rows_before_dedup"`
	RowsAfterDedup  int           `json:"rows_after_dedup" yaml:"rows_after_dedup"`
	Duplicates      int           `json:"duplicates" yaml:"duplicates"`
	MissingID       int           `json:"missing_id" yaml:"missing_id"`
	OutputFiles     []string      `json:"output_files" yaml:"output_files"`
	BytesWritten    int64         `json:"bytes_written" yaml:"bytes_written"`
	Skipped         bool          `json:"skipped" yaml:"skipped"`
	Duration        time.Duration `json:"duration" yaml:"duration"`
}

// Job compacts raw partitions.
type Job struct {
	cfg    Config
	writer *parquet.Writer
	logger *logging.Logger
}

// New validates cfg and returns a Job.
func New(cfg Config, logger *slog.Logger) (*Job, error) {
	if cfg.RawDir == "" || cfg.OutDir == "" {
		return nil, errors.New("raw and output directories are required")
	}
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	logger = logging.OrDefault(logger).With(logging.Component("compaction"))
	return &Job{
		cfg:    cfg,
		writer: parquet.NewWriter(cfg.RowsPerFile, logger),
		logger: &logging.Logger{Logger: logger},
	}, nil
}

// Partitions resolves sel to partition keys, sorted.
func (j *Job) Partitions(sel Selector) ([]string, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if sel.Date != "" {
		return []string{sel.Date}, nil
	}
	return partition.List(j.cfg.RawDir)
}

// Run compacts every partition sel names. Up to Config.Workers partitions
// run at once; reports come back in partition order. The first failure
// stops scheduling further partitions and is returned with the reports of
// the partitions that finished.
func (j *Job) Run(ctx context.Context, sel Selector) ([]Report, error) {
	keys, err := j.Partitions(sel)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithRunID(ctx, uuid.NewString())
	logger := j.logger.WithContext(ctx)
	j.logger.InfoContext(ctx, "compaction started",
		slog.Int("partitions", len(keys)),
		slog.String("mode", string(j.cfg.Mode)),
		slog.Int("workers", j.cfg.Workers),
		slog.Int("rows_per_file", j.writer.RowsPerFile()),
	)

	reports := make([]Report, len(keys))
	done := make([]bool, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Workers)
	for i, key := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rep, err := j.compact(logger, key)
			if err != nil {
				metrics.PartitionsCompacted.WithLabelValues("failed").Inc()
				return fmt.Errorf("compact partition %s: %w", key, err)
			}
			reports[i] = rep
			done[i] = true
			return nil
		})
	}
	err = g.Wait()

	finished := make([]Report, 0, len(keys))
	for i, ok := range done {
		if ok {
			finished = append(finished, reports[i])
		}
	}
	if err != nil {
		j.logger.ErrorContext(ctx, "compaction failed", logging.Error(err), slog.Int("completed", len(finished)))
		return finished, err
	}
	j.logger.InfoContext(ctx, "compaction finished", slog.Int("partitions", len(finished)))
	return finished, nil
}

// CompactPartition compacts one partition outside of a Run.
func (j *Job) CompactPartition(key string) (Report, error) {
	if !partition.ValidKey(key) {
		return Report{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidSelector, key)
	}
	return j.compact(j.logger.Logger, key)
}

func (j *Job) compact(logger *slog.Logger, key string) (Report, error) {
	start := time.Now()
	rep := Report{IngestDate: key}
	logger = logger.With(logging.Partition(key))

	rd := reader.New(j.cfg.RawDir, key, j.cfg.MaxLineBytes, logger)
	files, err := rd.Files()
	if err != nil {
		return rep, err
	}
	rep.InputFiles = len(files)
	if len(files) == 0 {
		logger.Info("no raw files for partition, skipping")
		return j.skip(rep, start), nil
	}

	var rows []models.Row
	for env, err := range rd.All() {
		if err != nil {
			return rep, err
		}
		rows = append(rows, normalizer.Normalize(env, key))
	}
	rep.Malformed = rd.Malformed()
	rep.RowsRead = rd.Lines()
	rep.RowsBeforeDedup = len(rows)
	metrics.RowsRead.Add(float64(rep.RowsRead))
	metrics.MalformedLines.Add(float64(rep.Malformed))
	if rep.Malformed > 0 {
		logger.Warn("skipped malformed lines", slog.Int("malformed", rep.Malformed))
	}

	kept, stats := dedup.Dedup(rows)
	rep.RowsAfterDedup = stats.Kept
	rep.Duplicates = stats.Duplicates
	rep.MissingID = stats.MissingID
	metrics.RowsDiscarded.WithLabelValues("duplicate").Add(float64(stats.Duplicates))
	metrics.RowsDiscarded.WithLabelValues("missing_id").Add(float64(stats.MissingID))

	if len(kept) == 0 {
		logger.Info("no rows to write, skipping", slog.Int("rows_read", rep.RowsRead))
		return j.skip(rep, start), nil
	}

	outDir := partition.Dir(j.cfg.OutDir, key)
	results, err := j.write(outDir, kept)
	if err != nil {
		return rep, err
	}
	for _, res := range results {
		rep.OutputFiles = append(rep.OutputFiles, res.Path)
		rep.BytesWritten += res.Bytes
	}
	rep.Duration = time.Since(start)

	metrics.RowsWritten.Add(float64(len(kept)))
	metrics.FilesWritten.Add(float64(len(results)))
	metrics.BytesWritten.Add(float64(rep.BytesWritten))
	metrics.PartitionDuration.Observe(rep.Duration.Seconds())
	metrics.PartitionsCompacted.WithLabelValues("compacted").Inc()

	logger.Info("partition compacted",
		slog.Int("input_files", rep.InputFiles),
		slog.Int("rows_read", rep.RowsRead),
		slog.Int("rows_before_dedup", rep.RowsBeforeDedup),
		slog.Int("rows_after_dedup", rep.RowsAfterDedup),
		slog.Int("duplicates", rep.Duplicates),
		slog.Int("missing_id", rep.MissingID),
		slog.Int("output_files", len(rep.OutputFiles)),
		logging.Duration(rep.Duration.Milliseconds()),
	)
	return rep, nil
}

func (j *Job) skip(rep Report, start time.Time) Report {
	rep.Skipped = true
	rep.Duration = time.Since(start)
	metrics.PartitionsCompacted.WithLabelValues("skipped").Inc()
	return rep
}

// write lands rows in outDir according to the output mode. In replace mode
// new files are renamed over the old ones before leftovers are removed, so
// the partition is never empty while a rerun is in progress.
func (j *Job) write(outDir string, rows []models.Row) ([]parquet.FileResult, error) {
	if j.cfg.Mode == ModeAppend {
		next, err := partition.NextSeq(outDir, partition.ParquetExt)
		if err != nil {
			return nil, err
		}
		return j.writer.WritePartition(outDir, rows, next)
	}

	existing, err := partition.Files(outDir, partition.ParquetExt)
	if err != nil {
		return nil, err
	}
	results, err := j.writer.WritePartition(outDir, rows, 0)
	if err != nil {
		return results, err
	}

	written := make(map[string]struct{}, len(results))
	for _, res := range results {
		written[filepath.Base(res.Path)] = struct{}{}
	}
	for _, path := range existing {
		if _, ok := written[filepath.Base(path)]; ok {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return results, fmt.Errorf("remove stale part %s: %w", path, err)
		}
	}
	return results, nil
}

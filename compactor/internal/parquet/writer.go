// Package parquet writes compacted partitions as zstd-compressed Parquet
// files and reads them back.
package parquet

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	pq "github.com/parquet-go/parquet-go"

	"github.com/telhawk-systems/telhawk-lake/common/logging"
	"github.com/telhawk-systems/telhawk-lake/common/models"
	"github.com/telhawk-systems/telhawk-lake/common/partition"
)

// DefaultRowsPerFile is the chunk size when none is configured.
const DefaultRowsPerFile = 250000

const encodeBatch = 4096

// FileResult describes one written part file.
type FileResult struct {
	Path  string
	Rows  int
	Bytes int64
}

// Writer splits a partition's rows into fixed-size part files.
type Writer struct {
	rowsPerFile int
	logger      *slog.Logger
}

// NewWriter returns a Writer. rowsPerFile <= 0 selects DefaultRowsPerFile.
func NewWriter(rowsPerFile int, logger *slog.Logger) *Writer {
	if rowsPerFile <= 0 {
		rowsPerFile = DefaultRowsPerFile
	}
	return &Writer{
		rowsPerFile: rowsPerFile,
		logger:      logging.OrDefault(logger).With(logging.Component("parquet_writer")),
	}
}

// RowsPerFile returns the chunk size.
func (w *Writer) RowsPerFile() int { return w.rowsPerFile }

// WritePartition writes rows into dir as part files numbered from startSeq.
// Each file is written to a temporary name and renamed into place, so a
// reader never sees a partial file. Zero rows write nothing.
func (w *Writer) WritePartition(dir string, rows []models.Row, startSeq int) ([]FileResult, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var results []FileResult
	seq := startSeq
	for start := 0; start < len(rows); start += w.rowsPerFile {
		end := min(start+w.rowsPerFile, len(rows))
		res, err := w.writeFile(dir, seq, rows[start:end])
		if err != nil {
			return results, err
		}
		w.logger.Debug("wrote part file",
			logging.Path(res.Path),
			logging.Rows(res.Rows),
			slog.Int64("bytes", res.Bytes),
		)
		results = append(results, res)
		seq++
	}
	return results, nil
}

func (w *Writer) writeFile(dir string, seq int, rows []models.Row) (res FileResult, err error) {
	final := filepath.Join(dir, partition.FileName(seq, partition.ParquetExt))

	tmp, err := os.CreateTemp(dir, ".part-*.tmp")
	if err != nil {
		return res, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	pw := pq.NewWriter(tmp, Schema,
		pq.Compression(&pq.Zstd),
		pq.DataPageStatistics(true),
		pq.KeyValueMetadata(models.FieldIngestDate, rows[0].IngestDate),
	)

	batch := make([]pq.Row, 0, encodeBatch)
	for i := range rows {
		batch = append(batch, toParquet(&rows[i]))
		if len(batch) == encodeBatch || i == len(rows)-1 {
			if _, err = pw.WriteRows(batch); err != nil {
				return res, fmt.Errorf("write rows: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err = pw.Close(); err != nil {
		return res, fmt.Errorf("close parquet writer: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return res, fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	info, err := tmp.Stat()
	if err != nil {
		return res, fmt.Errorf("stat %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return res, fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), final); err != nil {
		return res, fmt.Errorf("rename to %s: %w", final, err)
	}

	return FileResult{Path: final, Rows: len(rows), Bytes: info.Size()}, nil
}

// ReadFile decodes every row of one compacted part file.
func ReadFile(path string) ([]models.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := pq.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}

	var out []models.Row
	buf := make([]pq.Row, 256)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				out = append(out, fromParquet(row))
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				rows.Close()
				return out, fmt.Errorf("read %s: %w", path, err)
			}
		}
		if err := rows.Close(); err != nil {
			return out, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return out, nil
}

// ReadPartition decodes every part file in dir in sequence order.
func ReadPartition(dir string) ([]models.Row, error) {
	files, err := partition.Files(dir, partition.ParquetExt)
	if err != nil {
		return nil, err
	}
	var out []models.Row
	for _, path := range files {
		rows, err := ReadFile(path)
		if err != nil {
			return out, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

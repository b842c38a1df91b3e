package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/telhawk-lake/common/partition"
	"github.com/telhawk-systems/telhawk-lake/compactor/internal/metrics"
	"github.com/telhawk-systems/telhawk-lake/compactor/internal/parquet"
)

func writeRaw(t *testing.T, base, key string, seq int, lines ...string) {
	t.Helper()
	dir := partition.Dir(base, key)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, partition.FileName(seq, partition.RawExt)), []byte(content), 0o644))
}

func newJob(t *testing.T, cfg Config) (*Job, Config) {
	t.Helper()
	if cfg.RawDir == "" {
		cfg.RawDir = t.TempDir()
	}
	if cfg.OutDir == "" {
		cfg.OutDir = t.TempDir()
	}
	j, err := New(cfg, nil)
	require.NoError(t, err)
	return j, cfg
}

func partFiles(t *testing.T, cfg Config, key string) []string {
	t.Helper()
	files, err := partition.Files(partition.Dir(cfg.OutDir, key), partition.ParquetExt)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	return names
}

func TestRun_EndToEndDedup(t *testing.T) {
	j, cfg := newJob(t, Config{})
	writeRaw(t, cfg.RawDir, "2026-02-05", 0,
		`{"event_id":"e1","event_type":"first","ingest_time":"2026-02-05T10:00:00Z"}`,
		`{"event_id":"e1","event_type":"second","ingest_time":"2026-02-05T10:00:01Z"}`,
		`{"event_id":"e2","event_type":"other","ingest_time":"2026-02-05T10:00:02Z"}`,
	)

	reports, err := j.Run(context.Background(), Selector{Date: "2026-02-05"})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	rep := reports[0]
	assert.Equal(t, "2026-02-05", rep.IngestDate)
	assert.Equal(t, 1, rep.InputFiles)
	assert.Equal(t, 3, rep.RowsRead)
	assert.Equal(t, 3, rep.RowsBeforeDedup)
	assert.Equal(t, 2, rep.RowsAfterDedup)
	assert.Equal(t, 1, rep.Duplicates)
	assert.False(t, rep.Skipped)
	require.Len(t, rep.OutputFiles, 1)

	rows, err := parquet.ReadPartition(partition.Dir(cfg.OutDir, "2026-02-05"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "2026-02-05", r.IngestDate)
	}
	assert.Equal(t, "e1", *rows[0].EventID)
	assert.Equal(t, "first", *rows[0].EventType, "first occurrence wins")
	assert.Equal(t, "e2", *rows[1].EventID)
}

func TestRun_MalformedLinesSkipped(t *testing.T) {
	j, cfg := newJob(t, Config{})
	writeRaw(t, cfg.RawDir, "2026-02-05", 0,
		`{"event_id":"1","ingest_time":"2026-02-05T10:00:00Z"}`,
		`{not valid json}`,
		`{"event_id":"2","ingest_time":"2026-02-05T10:00:00Z"}`,
	)

	reports, err := j.Run(context.Background(), Selector{Date: "2026-02-05"})
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Malformed)
	assert.Equal(t, 2, reports[0].RowsAfterDedup)
}

func TestRun_AllPartitionsInOrder(t *testing.T) {
	j, cfg := newJob(t, Config{Workers: 3})
	for _, key := range []string{"2026-02-07", "2026-02-05", "2026-02-06"} {
		writeRaw(t, cfg.RawDir, key, 0, `{"event_id":"`+key+`","ingest_time":"`+key+`T00:00:00Z"}`)
	}

	reports, err := j.Run(context.Background(), Selector{All: true})
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, "2026-02-05", reports[0].IngestDate)
	assert.Equal(t, "2026-02-06", reports[1].IngestDate)
	assert.Equal(t, "2026-02-07", reports[2].IngestDate)
	for _, key := range []string{"2026-02-05", "2026-02-06", "2026-02-07"} {
		assert.Equal(t, []string{"part-00000.parquet"}, partFiles(t, cfg, key))
	}
}

func TestRun_AllWithNoPartitions(t *testing.T) {
	j, _ := newJob(t, Config{})
	reports, err := j.Run(context.Background(), Selector{All: true})
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestRun_DateWithoutRawFilesIsSkipped(t *testing.T) {
	j, cfg := newJob(t, Config{})

	reports, err := j.Run(context.Background(), Selector{Date: "2026-02-05"})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Skipped)
	assert.Zero(t, reports[0].InputFiles)
	assert.Empty(t, partFiles(t, cfg, "2026-02-05"))
}

func TestRun_NoIdentifiedRowsIsSkipped(t *testing.T) {
	j, cfg := newJob(t, Config{})
	writeRaw(t, cfg.RawDir, "2026-02-05", 0,
		`{"ingest_time":"2026-02-05T10:00:00Z"}`,
		`{"event_id":null,"ingest_time":"2026-02-05T10:00:00Z"}`,
	)

	reports, err := j.Run(context.Background(), Selector{Date: "2026-02-05"})
	require.NoError(t, err)
	assert.True(t, reports[0].Skipped)
	assert.Equal(t, 2, reports[0].MissingID)
	assert.Empty(t, partFiles(t, cfg, "2026-02-05"))
}

func TestRun_ReplaceModeIsIdempotent(t *testing.T) {
	raw := t.TempDir()
	out := t.TempDir()
	writeRaw(t, raw, "2026-02-05", 0,
		`{"event_id":"1","ingest_time":"2026-02-05T10:00:00Z"}`,
		`{"event_id":"2","ingest_time":"2026-02-05T10:00:00Z"}`,
		`{"event_id":"3","ingest_time":"2026-02-05T10:00:00Z"}`,
	)

	small, cfg := newJob(t, Config{RawDir: raw, OutDir: out, RowsPerFile: 1})
	_, err := small.Run(context.Background(), Selector{Date: "2026-02-05"})
	require.NoError(t, err)
	assert.Len(t, partFiles(t, cfg, "2026-02-05"), 3)

	big, _ := newJob(t, Config{RawDir: raw, OutDir: out, RowsPerFile: 10, Mode: ModeReplace})
	_, err = big.Run(context.Background(), Selector{Date: "2026-02-05"})
	require.NoError(t, err)
	assert.Equal(t, []string{"part-00000.parquet"}, partFiles(t, cfg, "2026-02-05"), "stale parts removed")

	rows, err := parquet.ReadPartition(partition.Dir(out, "2026-02-05"))
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestRun_AppendModeContinuesNumbering(t *testing.T) {
	j, cfg := newJob(t, Config{Mode: ModeAppend})
	writeRaw(t, cfg.RawDir, "2026-02-05", 0, `{"event_id":"1","ingest_time":"2026-02-05T10:00:00Z"}`)

	for range 2 {
		_, err := j.Run(context.Background(), Selector{Date: "2026-02-05"})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"part-00000.parquet", "part-00001.parquet"}, partFiles(t, cfg, "2026-02-05"))
}

func TestRun_Cancelled(t *testing.T) {
	j, cfg := newJob(t, Config{})
	writeRaw(t, cfg.RawDir, "2026-02-05", 0, `{"event_id":"1","ingest_time":"2026-02-05T10:00:00Z"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports, err := j.Run(ctx, Selector{All: true})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reports)
	assert.Empty(t, partFiles(t, cfg, "2026-02-05"))
}

func TestRun_InvalidSelector(t *testing.T) {
	j, _ := newJob(t, Config{})

	for _, sel := range []Selector{{}, {Date: "2026-02-05", All: true}, {Date: "02/05/2026"}} {
		_, err := j.Run(context.Background(), sel)
		assert.ErrorIs(t, err, ErrInvalidSelector, "%+v", sel)
	}
}

func TestCompactPartition(t *testing.T) {
	j, cfg := newJob(t, Config{})
	writeRaw(t, cfg.RawDir, "2026-02-05", 0, `{"event_id":"1","ingest_time":"2026-02-05T10:00:00Z"}`)

	rep, err := j.CompactPartition("2026-02-05")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.RowsAfterDedup)

	_, err = j.CompactPartition("bogus")
	assert.ErrorIs(t, err, ErrInvalidSelector)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeReplace, false},
		{"replace", ModeReplace, false},
		{"APPEND", ModeAppend, false},
		{"merge", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrUnknownMode))
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(Config{RawDir: "a", OutDir: "b", Mode: "merge"}, nil)
	assert.ErrorIs(t, err, ErrUnknownMode)

	_, err = New(Config{OutDir: "b"}, nil)
	assert.Error(t, err)
}

func TestRun_RecordsMetrics(t *testing.T) {
	skipped := metrics.PartitionsCompacted.WithLabelValues("skipped")
	compacted := metrics.PartitionsCompacted.WithLabelValues("compacted")
	beforeSkipped := testutil.ToFloat64(skipped)
	beforeCompacted := testutil.ToFloat64(compacted)
	beforeDups := testutil.ToFloat64(metrics.RowsDiscarded.WithLabelValues("duplicate"))

	j, cfg := newJob(t, Config{})
	writeRaw(t, cfg.RawDir, "2026-02-05",
		0,
		`{"event_id":"1","ingest_time":"2026-02-05T10:00:00Z"}`,
		`{"event_id":"1","ingest_time":"2026-02-05T10:00:00Z"}`,
	)

	_, err := j.Run(context.Background(), Selector{Date: "2026-02-05"})
	require.NoError(t, err)
	_, err = j.Run(context.Background(), Selector{Date: "2026-02-06"})
	require.NoError(t, err)

	assert.Equal(t, beforeCompacted+1, testutil.ToFloat64(compacted))
	assert.Equal(t, beforeSkipped+1, testutil.ToFloat64(skipped))
	assert.Equal(t, beforeDups+1, testutil.ToFloat64(metrics.RowsDiscarded.WithLabelValues("duplicate")))
}

func TestRun_LogsCarryRunID(t *testing.T) {
	var buf bytes.Buffer
	raw, out := t.TempDir(), t.TempDir()
	j, err := New(Config{RawDir: raw, OutDir: out}, slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, err)
	writeRaw(t, raw, "2026-02-05", 0, `{"event_id":"e1","ingest_time":"2026-02-05T10:00:00Z"}`)

	_, err = j.Run(context.Background(), Selector{Date: "2026-02-05"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	runIDs := map[any]int{}
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		require.Contains(t, entry, "run_id", line)
		runIDs[entry["run_id"]]++
	}
	assert.Len(t, runIDs, 1, "one run id shared by every line of the run")
}

func TestRun_NumericEventIDIsNotAnIdentity(t *testing.T) {
	j, cfg := newJob(t, Config{})
	writeRaw(t, cfg.RawDir, "2026-02-05", 0,
		`{"event_id":1,"ingest_time":"2026-02-05T10:00:00Z"}`,
		`{"event_id":"1","ingest_time":"2026-02-05T10:00:01Z"}`,
	)

	reports, err := j.Run(context.Background(), Selector{Date: "2026-02-05"})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].RowsAfterDedup)
	assert.Equal(t, 1, reports[0].MissingID)
	assert.Zero(t, reports[0].Duplicates)

	rows, err := parquet.ReadPartition(partition.Dir(cfg.OutDir, "2026-02-05"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", *rows[0].EventID)
}

package writer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/telhawk-lake/common/partition"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)}
}

func rawFiles(t *testing.T, base, key string) []string {
	t.Helper()
	files, err := partition.Files(partition.Dir(base, key), partition.RawExt)
	require.NoError(t, err)
	return files
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRollPolicy_ShouldRoll(t *testing.T) {
	p := RollPolicy{MaxBytes: 100, MaxAge: time.Minute}

	tests := []struct {
		name  string
		bytes int64
		age   time.Duration
		want  bool
	}{
		{"fresh", 0, 0, false},
		{"under both", 99, 59 * time.Second, false},
		{"size reached", 100, 0, true},
		{"age reached", 0, time.Minute, true},
		{"both reached", 500, time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldRoll(tt.bytes, tt.age))
		})
	}

	assert.False(t, RollPolicy{}.ShouldRoll(1<<40, 24*time.Hour), "zero limits never roll")
	assert.Error(t, RollPolicy{}.Validate())
	assert.NoError(t, p.Validate())
}

func TestWrite_RollsOnSize(t *testing.T) {
	base := t.TempDir()
	w := New(base, RollPolicy{MaxBytes: 40, MaxAge: time.Hour})

	record := []byte(`{"event_id":"e1","ingest_time":"2026-02-05T10:00:00Z"}`)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Write("2026-02-05", record))
	}
	require.NoError(t, w.CloseAll())

	files := rawFiles(t, base, "2026-02-05")
	require.Len(t, files, 3, "each record exceeds the limit on its own")
	assert.Equal(t, "part-00000.ndjson", filepath.Base(files[0]))
	assert.Equal(t, "part-00002.ndjson", filepath.Base(files[2]))
	for _, f := range files {
		assert.Len(t, readLines(t, f), 1, "records are never split")
	}
}

func TestWrite_RollsOnAge(t *testing.T) {
	base := t.TempDir()
	clock := newClock()
	w := New(base, RollPolicy{MaxBytes: 1 << 20, MaxAge: time.Second}, WithClock(clock.Now))

	require.NoError(t, w.Write("2026-02-05", []byte(`{"n":1}`)))
	require.NoError(t, w.Write("2026-02-05", []byte(`{"n":2}`)))
	clock.Advance(1100 * time.Millisecond)
	require.NoError(t, w.Write("2026-02-05", []byte(`{"n":3}`)))
	require.NoError(t, w.CloseAll())

	files := rawFiles(t, base, "2026-02-05")
	require.Len(t, files, 2)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, readLines(t, files[0]))
	assert.Equal(t, []string{`{"n":3}`}, readLines(t, files[1]))
}

func TestWrite_SeparateKeysSeparateFiles(t *testing.T) {
	base := t.TempDir()
	w := New(base, RollPolicy{MaxBytes: 1 << 20, MaxAge: time.Hour})

	require.NoError(t, w.Write("2026-02-05", []byte(`{"d":5}`)))
	require.NoError(t, w.Write("2026-02-06", []byte(`{"d":6}`)))
	require.NoError(t, w.Write("2026-02-05", []byte(`{"d":5}`)))
	assert.Equal(t, []string{"2026-02-05", "2026-02-06"}, w.OpenPartitions())
	require.NoError(t, w.CloseAll())

	five := rawFiles(t, base, "2026-02-05")
	six := rawFiles(t, base, "2026-02-06")
	require.Len(t, five, 1)
	require.Len(t, six, 1)
	assert.Equal(t, []string{`{"d":5}`, `{"d":5}`}, readLines(t, five[0]))
	assert.Equal(t, []string{`{"d":6}`}, readLines(t, six[0]))
}

func TestWrite_CompactsToOneLine(t *testing.T) {
	base := t.TempDir()
	w := New(base, RollPolicy{MaxBytes: 1 << 20, MaxAge: time.Hour})

	pretty := []byte("{\n  \"event_id\": \"e1\",\n  \"payload\": {\"a\": [1, 2]}\n}")
	require.NoError(t, w.Write("2026-02-05", pretty))
	require.NoError(t, w.CloseAll())

	files := rawFiles(t, base, "2026-02-05")
	require.Len(t, files, 1)
	assert.Equal(t, []string{`{"event_id":"e1","payload":{"a":[1,2]}}`}, readLines(t, files[0]))
}

func TestCloseAll_ThenReopen(t *testing.T) {
	base := t.TempDir()
	w := New(base, RollPolicy{MaxBytes: 1 << 20, MaxAge: time.Hour})

	require.NoError(t, w.Write("2026-02-05", []byte(`{"n":1}`)))
	require.NoError(t, w.Write("2026-02-06", []byte(`{"n":1}`)))
	require.NoError(t, w.CloseAll())
	assert.Empty(t, w.OpenPartitions())
	require.NoError(t, w.CloseAll(), "closing twice is harmless")
	require.NoError(t, w.Close("2026-02-05"))
	require.NoError(t, w.Close("1999-01-01"))

	require.NoError(t, w.Write("2026-02-05", []byte(`{"n":2}`)))
	assert.Equal(t, []string{"2026-02-05"}, w.OpenPartitions())
	require.NoError(t, w.CloseAll())

	files := rawFiles(t, base, "2026-02-05")
	require.Len(t, files, 2, "reopening continues the sequence")
	assert.Equal(t, "part-00001.ndjson", filepath.Base(files[1]))
	assert.Equal(t, []string{`{"n":2}`}, readLines(t, files[1]))
}

func TestWrite_ResumeScanContinuesNumbering(t *testing.T) {
	base := t.TempDir()
	dir := partition.Dir(base, "2026-02-05")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-00003.ndjson"), []byte("{\"old\":true}\n"), 0o644))

	var opened []string
	w := New(base, RollPolicy{MaxBytes: 1 << 20, MaxAge: time.Hour},
		WithOpenHook(func(_, path string, _ int) { opened = append(opened, filepath.Base(path)) }))
	require.NoError(t, w.Write("2026-02-05", []byte(`{"new":true}`)))
	require.NoError(t, w.CloseAll())

	assert.Equal(t, []string{"part-00004.ndjson"}, opened)
	assert.Equal(t, []string{`{"old":true}`}, readLines(t, filepath.Join(dir, "part-00003.ndjson")))
}

func TestWrite_AppendRepairsTornTail(t *testing.T) {
	base := t.TempDir()
	dir := partition.Dir(base, "2026-02-05")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "part-00000.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{\"n\":1}\n{\"n\":2,\"trunc"), 0o644))

	w := New(base, RollPolicy{MaxBytes: 1 << 20, MaxAge: time.Hour}, WithResumeScan(false), WithFsync(true))
	require.NoError(t, w.Write("2026-02-05", []byte(`{"n":3}`)))
	require.NoError(t, w.CloseAll())

	assert.Equal(t, []string{`{"n":1}`, `{"n":3}`}, readLines(t, path))
}

func TestRepairTail_NoNewlineAtAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", tailChunk+10)), 0o644))

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	size, removed, err := repairTail(f)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Equal(t, int64(tailChunk+10), removed)
}

func TestWrite_Errors(t *testing.T) {
	t.Run("invalid key", func(t *testing.T) {
		w := New(t.TempDir(), RollPolicy{MaxBytes: 10})
		err := w.Write("../escape", []byte(`{}`))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("invalid json", func(t *testing.T) {
		w := New(t.TempDir(), RollPolicy{MaxBytes: 10})
		assert.Error(t, w.Write("2026-02-05", []byte(`{not json`)))
	})

	t.Run("unwritable base", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(base, []byte("x"), 0o644))
		w := New(base, RollPolicy{MaxBytes: 10})
		err := w.Write("2026-02-05", []byte(`{}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "create partition dir")
	})
}

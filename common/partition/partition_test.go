package partition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFromIngestTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "zulu", input: "2026-02-05T10:00:00Z", want: "2026-02-05"},
		{name: "explicit utc offset", input: "2026-02-05T10:00:00+00:00", want: "2026-02-05"},
		{name: "fractional seconds", input: "2026-02-05T23:59:59.999999Z", want: "2026-02-05"},
		{name: "positive offset crosses to previous utc day", input: "2026-02-06T01:30:00+02:00", want: "2026-02-05"},
		{name: "negative offset crosses to next utc day", input: "2026-02-05T22:00:00-05:00", want: "2026-02-06"},
		{name: "surrounding whitespace", input: "  2026-02-05T10:00:00Z ", wantErr: true},
		{name: "trailing newline", input: "2026-02-05T10:00:00Z\n", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "no offset", input: "2026-02-05T10:00:00", wantErr: true},
		{name: "date only", input: "2026-02-05", wantErr: true},
		{name: "garbage", input: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KeyFromIngestTime(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimestamp_BlankIsEmpty(t *testing.T) {
	for _, s := range []string{"", "   ", "\t"} {
		_, err := ParseTimestamp(s)
		assert.ErrorIs(t, err, ErrEmptyTimestamp, "%q", s)
	}
	_, err := ParseTimestamp(" 2026-02-05T10:00:00Z")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyTimestamp)
}

func TestKeyFromIngestTime_OffsetRepresentationsAgree(t *testing.T) {
	instants := [][2]string{
		{"2026-02-05T00:00:00Z", "2026-02-05T00:00:00+00:00"},
		{"2026-02-05T23:59:59Z", "2026-02-06T01:59:59+02:00"},
		{"2026-12-31T23:00:00Z", "2026-12-31T18:00:00-05:00"},
	}
	for _, pair := range instants {
		a, err := KeyFromIngestTime(pair[0])
		require.NoError(t, err)
		b, err := KeyFromIngestTime(pair[1])
		require.NoError(t, err)
		assert.Equal(t, a, b, "%s vs %s", pair[0], pair[1])
	}
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("2026-02-05"))
	assert.False(t, ValidKey("2026-2-5"))
	assert.False(t, ValidKey("2026-02-30"))
	assert.False(t, ValidKey(""))
}

func TestFileNameAndParseSeq(t *testing.T) {
	assert.Equal(t, "part-00000.ndjson", FileName(0, RawExt))
	assert.Equal(t, "part-00042.parquet", FileName(42, ParquetExt))

	seq, ok := ParseSeq("part-00007.ndjson", RawExt)
	assert.True(t, ok)
	assert.Equal(t, 7, seq)

	_, ok = ParseSeq("part-00007.parquet", RawExt)
	assert.False(t, ok)
	_, ok = ParseSeq("part-.ndjson", RawExt)
	assert.False(t, ok)
	_, ok = ParseSeq("other-00001.ndjson", RawExt)
	assert.False(t, ok)
	_, ok = ParseSeq("part-00001.ndjson.tmp", RawExt)
	assert.False(t, ok)
}

func TestDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/data/raw", "events", "ingest_date=2026-02-05"), Dir("/data/raw", "2026-02-05"))
}

func TestFilesAndNextSeq(t *testing.T) {
	base := t.TempDir()
	dir := Dir(base, "2026-02-05")

	files, err := Files(dir, RawExt)
	require.NoError(t, err)
	assert.Empty(t, files, "missing directory yields no files")

	next, err := NextSeq(dir, RawExt)
	require.NoError(t, err)
	assert.Equal(t, 0, next)

	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"part-00002.ndjson", "part-00000.ndjson", "notes.txt", "part-00001.parquet"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o644))
	}

	files, err = Files(dir, RawExt)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "part-00000.ndjson"),
		filepath.Join(dir, "part-00002.ndjson"),
	}, files)

	next, err = NextSeq(dir, RawExt)
	require.NoError(t, err)
	assert.Equal(t, 3, next)
}

func TestList(t *testing.T) {
	base := t.TempDir()

	keys, err := List(base)
	require.NoError(t, err)
	assert.Empty(t, keys)

	for _, key := range []string{"2026-02-06", "2026-02-05"} {
		require.NoError(t, os.MkdirAll(Dir(base, key), 0o755))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(base, EventsDir, "_tmp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, EventsDir, "ingest_date=file"), nil, 0o644))

	keys, err = List(base)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-02-05", "2026-02-06"}, keys)
}

// Package partition derives partition keys from envelope timestamps and maps
// keys to the on-disk layout shared by the raw sink and the compactor:
//
//	<base>/events/ingest_date=YYYY-MM-DD/part-00000.<ext>
package partition

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// EventsDir is the dataset directory under every base directory.
	EventsDir = "events"

	// KeyPrefix prefixes partition directory names (hive style).
	KeyPrefix = "ingest_date="

	// DateLayout is the partition key format.
	DateLayout = "2006-01-02"

	// RawExt and ParquetExt are the part file extensions for each stage.
	RawExt     = ".ndjson"
	ParquetExt = ".parquet"

	partPrefix = "part-"
)

// ErrEmptyTimestamp is returned for a missing or blank timestamp.
var ErrEmptyTimestamp = errors.New("empty timestamp")

// ParseTimestamp parses an ISO-8601 timestamp that carries an explicit offset
// ("Z" or "±hh:mm"), with optional fractional seconds. Surrounding whitespace
// is rejected; a blank value counts as empty.
func ParseTimestamp(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, ErrEmptyTimestamp
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// KeyFor returns the partition key for an instant: its UTC calendar date.
func KeyFor(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// KeyFromIngestTime derives the partition key from a raw ingest_time value.
func KeyFromIngestTime(ingestTime string) (string, error) {
	t, err := ParseTimestamp(ingestTime)
	if err != nil {
		return "", err
	}
	return KeyFor(t), nil
}

// ValidKey reports whether key is a well-formed partition key.
func ValidKey(key string) bool {
	t, err := time.Parse(DateLayout, key)
	return err == nil && t.Format(DateLayout) == key
}

// Dir returns the directory holding one partition under base.
func Dir(base, key string) string {
	return filepath.Join(base, EventsDir, KeyPrefix+key)
}

// FileName returns the part file name for a sequence number.
func FileName(seq int, ext string) string {
	return fmt.Sprintf("%s%05d%s", partPrefix, seq, ext)
}

// ParseSeq extracts the sequence number from a part file name with the
// given extension.
func ParseSeq(name, ext string) (int, bool) {
	if !strings.HasPrefix(name, partPrefix) || !strings.HasSuffix(name, ext) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, partPrefix), ext)
	if digits == "" {
		return 0, false
	}
	seq, err := strconv.Atoi(digits)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// Files returns the part files with extension ext inside dir, sorted
// lexicographically. A missing directory yields no files.
func Files(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read partition dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := ParseSeq(e.Name(), ext); ok {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// NextSeq returns one past the highest part sequence present in dir, or 0.
func NextSeq(dir, ext string) (int, error) {
	files, err := Files(dir, ext)
	if err != nil {
		return 0, err
	}
	next := 0
	for _, f := range files {
		if seq, ok := ParseSeq(filepath.Base(f), ext); ok && seq >= next {
			next = seq + 1
		}
	}
	return next, nil
}

// List enumerates the partition keys present under base, sorted.
func List(base string) ([]string, error) {
	root := filepath.Join(base, EventsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), KeyPrefix) {
			continue
		}
		keys = append(keys, strings.TrimPrefix(e.Name(), KeyPrefix))
	}
	sort.Strings(keys)
	return keys, nil
}

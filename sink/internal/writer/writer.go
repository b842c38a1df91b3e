// Package writer lands raw records in rolling, date-partitioned NDJSON files.
package writer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/telhawk-systems/telhawk-lake/common/logging"
	"github.com/telhawk-systems/telhawk-lake/common/partition"
)

// ErrInvalidKey is returned when Write is given a malformed partition key.
var ErrInvalidKey = errors.New("invalid partition key")

// tailChunk is how far back repairTail reads per step.
const tailChunk = 4096

// partitionState is the registry entry for one partition.
type partitionState struct {
	file    *os.File
	path    string
	bytes   int64
	opened  time.Time
	seq     int
	scanned bool
}

// OpenFunc is called whenever the writer opens a part file.
type OpenFunc func(key, path string, seq int)

// RollingWriter appends records to per-partition part files and rolls them
// according to a RollPolicy. It is not safe for concurrent use; the sink
// drives it from a single goroutine.
type RollingWriter struct {
	baseDir string
	policy  RollPolicy
	parts   map[string]*partitionState

	now    func() time.Time
	fsync  bool
	resume bool
	onOpen OpenFunc
	logger *slog.Logger
}

// Option configures a RollingWriter.
type Option func(*RollingWriter)

// WithClock replaces time.Now for age checks.
func WithClock(now func() time.Time) Option {
	return func(w *RollingWriter) { w.now = now }
}

// WithFsync syncs every write to stable storage before Write returns.
func WithFsync(enabled bool) Option {
	return func(w *RollingWriter) { w.fsync = enabled }
}

// WithResumeScan controls first-open numbering. When enabled (the default)
// a partition starts one past the highest existing part. When disabled it
// starts at part 0 and appends to whatever is there.
func WithResumeScan(enabled bool) Option {
	return func(w *RollingWriter) { w.resume = enabled }
}

// WithOpenHook registers a callback for every newly opened part file.
func WithOpenHook(fn OpenFunc) Option {
	return func(w *RollingWriter) { w.onOpen = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *RollingWriter) { w.logger = logger }
}

// New creates a RollingWriter rooted at baseDir.
func New(baseDir string, policy RollPolicy, opts ...Option) *RollingWriter {
	w := &RollingWriter{
		baseDir: baseDir,
		policy:  policy,
		parts:   make(map[string]*partitionState),
		now:     time.Now,
		resume:  true,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.OrDefault(w.logger).With(logging.Component("rolling_writer"))
	return w
}

// Write appends record as one line to the partition's current file, rolling
// first if the policy says so.
func (w *RollingWriter) Write(key string, record []byte) error {
	if !partition.ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	var line bytes.Buffer
	line.Grow(len(record) + 1)
	if err := json.Compact(&line, record); err != nil {
		return fmt.Errorf("compact record: %w", err)
	}
	line.WriteByte('\n')

	st := w.state(key)
	if st.file != nil && w.policy.ShouldRoll(st.bytes, w.now().Sub(st.opened)) {
		w.logger.Debug("rolling partition file",
			logging.Partition(key),
			logging.Path(st.path),
			slog.Int64("bytes", st.bytes))
		if err := w.closeState(st); err != nil {
			return err
		}
	}
	if st.file == nil {
		if err := w.open(key, st); err != nil {
			return err
		}
	}

	n, err := st.file.Write(line.Bytes())
	st.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("write %s: %w", st.path, err)
	}
	if w.fsync {
		if err := st.file.Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", st.path, err)
		}
	}
	return nil
}

// Close releases one partition's open file. The next write opens the next
// part. Closing a partition with no open file is a no-op.
func (w *RollingWriter) Close(key string) error {
	st, ok := w.parts[key]
	if !ok {
		return nil
	}
	return w.closeState(st)
}

// CloseAll closes every open file and returns the joined close errors.
func (w *RollingWriter) CloseAll() error {
	var errs []error
	for _, key := range w.keys(false) {
		if err := w.closeState(w.parts[key]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenPartitions returns the keys that currently hold an open file, sorted.
func (w *RollingWriter) OpenPartitions() []string {
	return w.keys(true)
}

func (w *RollingWriter) keys(openOnly bool) []string {
	keys := make([]string, 0, len(w.parts))
	for k, st := range w.parts {
		if openOnly && st.file == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (w *RollingWriter) state(key string) *partitionState {
	st, ok := w.parts[key]
	if !ok {
		st = &partitionState{}
		w.parts[key] = st
	}
	return st
}

func (w *RollingWriter) open(key string, st *partitionState) error {
	dir := partition.Dir(w.baseDir, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition dir %s: %w", dir, err)
	}

	if !st.scanned {
		st.scanned = true
		if w.resume {
			next, err := partition.NextSeq(dir, partition.RawExt)
			if err != nil {
				return err
			}
			st.seq = next
		}
	}

	path := filepath.Join(dir, partition.FileName(st.seq, partition.RawExt))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	size, removed, err := repairTail(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("repair %s: %w", path, err)
	}
	if removed > 0 {
		w.logger.Warn("truncated incomplete trailing record",
			logging.Path(path),
			slog.Int64("bytes_removed", removed))
	}

	st.file = f
	st.path = path
	st.bytes = size
	st.opened = w.now()

	w.logger.Debug("opened partition file", logging.Partition(key), logging.Path(path), logging.Sequence(st.seq))
	if w.onOpen != nil {
		w.onOpen(key, path, st.seq)
	}
	return nil
}

func (w *RollingWriter) closeState(st *partitionState) error {
	if st.file == nil {
		return nil
	}
	f := st.file
	st.file = nil
	st.bytes = 0
	st.seq++

	var errs []error
	if w.fsync {
		if err := f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", st.path, err))
		}
	}
	if err := f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", st.path, err))
	}
	return errors.Join(errs...)
}

// repairTail truncates a trailing partial line (one without a newline) left
// by an interrupted write. It returns the resulting size and the number of
// bytes removed.
func repairTail(f *os.File) (size, removed int64, err error) {
	info, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	size = info.Size()
	if size == 0 {
		return 0, 0, nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return size, 0, err
	}
	if last[0] == '\n' {
		return size, 0, nil
	}

	keep := int64(0)
	buf := make([]byte, tailChunk)
	for end := size; end > 0; {
		start := max(end-tailChunk, 0)
		chunk := buf[:end-start]
		if _, err := f.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return size, 0, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			keep = start + int64(i) + 1
			break
		}
		end = start
	}

	if err := f.Truncate(keep); err != nil {
		return size, 0, err
	}
	return keep, size - keep, nil
}

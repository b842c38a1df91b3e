// Package reader streams envelopes out of one raw partition.
package reader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/telhawk-systems/telhawk-lake/common/logging"
	"github.com/telhawk-systems/telhawk-lake/common/models"
	"github.com/telhawk-systems/telhawk-lake/common/partition"
)

// DefaultMaxLineBytes caps a single raw line.
const DefaultMaxLineBytes = 16 * 1024 * 1024

// Reader iterates the raw part files of one partition in name order. It is
// not safe for concurrent use.
type Reader struct {
	dir     string
	maxLine int
	logger  *slog.Logger

	malformed int
	lines     int
}

// New returns a Reader for partition key under baseDir. maxLine <= 0 selects
// DefaultMaxLineBytes.
func New(baseDir, key string, maxLine int, logger *slog.Logger) *Reader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &Reader{
		dir:     partition.Dir(baseDir, key),
		maxLine: maxLine,
		logger:  logging.OrDefault(logger).With(logging.Component("partition_reader"), logging.Partition(key)),
	}
}

// Files lists the partition's raw part files.
func (r *Reader) Files() ([]string, error) {
	return partition.Files(r.dir, partition.RawExt)
}

// Malformed returns how many lines the last iteration skipped.
func (r *Reader) Malformed() int { return r.malformed }

// Lines returns how many non-empty lines the last iteration saw.
func (r *Reader) Lines() int { return r.lines }

// All yields every envelope in the partition. Blank lines are ignored;
// lines that are not a JSON object, or longer than the line limit, are
// skipped and counted. I/O failures are yielded as errors and end the
// sequence. Each call starts over from the first file.
func (r *Reader) All() iter.Seq2[models.Envelope, error] {
	return func(yield func(models.Envelope, error) bool) {
		r.malformed = 0
		r.lines = 0

		files, err := r.Files()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, path := range files {
			if !r.readFile(path, yield) {
				return
			}
		}
	}
}

func (r *Reader) readFile(path string, yield func(models.Envelope, error) bool) bool {
	f, err := os.Open(path)
	if err != nil {
		yield(nil, fmt.Errorf("open %s: %w", path, err))
		return false
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 64*1024)
	var line []byte
	tooLong := false
	lineNo := 0

	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > r.maxLine+1 {
				tooLong = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		atEOF := errors.Is(err, io.EOF)
		if err != nil && !atEOF {
			yield(nil, fmt.Errorf("read %s: %w", path, err))
			return false
		}

		lineNo++
		if !r.handleLine(path, lineNo, line, tooLong, yield) {
			return false
		}
		line = line[:0]
		tooLong = false

		if atEOF {
			return true
		}
	}
}

func (r *Reader) handleLine(path string, lineNo int, raw []byte, tooLong bool, yield func(models.Envelope, error) bool) bool {
	if tooLong {
		r.lines++
		r.malformed++
		r.logger.Warn("skipping oversized line", logging.Path(filepath.Base(path)), slog.Int("line", lineNo))
		return true
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true
	}
	r.lines++

	env, err := models.DecodeEnvelope(trimmed)
	if err != nil {
		r.malformed++
		r.logger.Debug("skipping malformed line", logging.Path(filepath.Base(path)), slog.Int("line", lineNo), logging.Error(err))
		return true
	}
	return yield(env, nil)
}

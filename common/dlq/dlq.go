// Package dlq keeps feed records the sink could not partition so they can be
// inspected or replayed later.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/telhawk-systems/telhawk-lake/common/logging"
)

// Drop reasons.
const (
	ReasonInvalidJSON       = "invalid_json"
	ReasonNotObject         = "not_object"
	ReasonMissingIngestTime = "missing_ingest_time"
	ReasonBadIngestTime     = "bad_ingest_time"
)

// ErrNotEnabled is returned by operations on a nil queue.
var ErrNotEnabled = errors.New("dlq not enabled")

// DroppedRecord captures one rejected feed record.
type DroppedRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error,omitempty"`
	Value     string    `json:"value"`
}

// Queue accepts dropped records.
type Queue interface {
	Write(ctx context.Context, rec DroppedRecord) error
	Written() uint64
}

// FileQueue writes each dropped record to its own JSON file under basePath.
type FileQueue struct {
	basePath string
	logger   *slog.Logger
	mu       sync.Mutex
	written  uint64
}

// NewFileQueue creates a DLQ that writes to the specified directory.
func NewFileQueue(basePath string, logger *slog.Logger) (*FileQueue, error) {
	if basePath == "" {
		return nil, errors.New("dlq base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &FileQueue{
		basePath: basePath,
		logger:   logging.OrDefault(logger).With(logging.Component("dlq")),
	}, nil
}

// Write records a dropped record.
func (q *FileQueue) Write(_ context.Context, rec DroppedRecord) error {
	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	filename := fmt.Sprintf("dropped_%d_%06d.json", rec.Timestamp.UnixNano(), q.written)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(q.basePath, filename), data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}

	q.written++
	q.logger.Debug("wrote dropped record", logging.Path(filename), logging.Reason(rec.Reason))
	return nil
}

// Written returns how many records this queue has accepted.
func (q *FileQueue) Written() uint64 {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.written
}

// List returns up to limit dropped records in write order. limit <= 0 means all.
func (q *FileQueue) List(_ context.Context, limit int) ([]DroppedRecord, error) {
	if q == nil {
		return nil, ErrNotEnabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return nil, err
	}

	var records []DroppedRecord
	for _, name := range names {
		if limit > 0 && len(records) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.Warn("failed to read dlq entry", logging.Path(name), logging.Error(err))
			continue
		}
		var rec DroppedRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			q.logger.Warn("failed to parse dlq entry", logging.Path(name), logging.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Purge removes every entry and returns how many were deleted.
func (q *FileQueue) Purge(_ context.Context) (int, error) {
	if q == nil {
		return 0, ErrNotEnabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return 0, err
	}

	deleted := 0
	var errs []error
	for _, name := range names {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	q.logger.Info("purged dlq", slog.Int("deleted", deleted))
	return deleted, errors.Join(errs...)
}

func (q *FileQueue) entries() ([]string, error) {
	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	var names []string
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), "dropped_") || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)
	return names, nil
}

var _ Queue = (*FileQueue)(nil)

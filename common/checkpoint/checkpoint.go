// Package checkpoint persists the sink's resume offset.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds a single forward-only offset: the next record to consume.
type Store interface {
	// Load returns the stored offset. ok is false when nothing usable is stored.
	Load(ctx context.Context) (offset int64, ok bool, err error)
	// Save overwrites the stored offset.
	Save(ctx context.Context, offset int64) error
}

// parseOffset accepts one decimal integer surrounded by optional whitespace.
func parseOffset(s string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// FileStore keeps the offset as text in a single file.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the offset. A missing or unparsable file is reported as absent.
func (s *FileStore) Load(_ context.Context) (int64, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}
	v, ok := parseOffset(string(data))
	return v, ok, nil
}

// Save replaces the file's contents through a temp file and rename, so a
// reader never observes a partial value.
func (s *FileStore) Save(_ context.Context, offset int64) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.FormatInt(offset, 10)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// KeyFor returns the Redis key for a topic and consumer group.
func KeyFor(topic, group string) string {
	return fmt.Sprintf("lake:checkpoint:%s:%s", topic, group)
}

// RedisStore keeps the offset in a single Redis string key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// DialRedis connects to redisURL and verifies the connection.
func DialRedis(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// Key returns the Redis key holding the offset.
func (s *RedisStore) Key() string {
	return s.key
}

// Load reads the offset. A missing or non-integer value is reported as absent.
func (s *RedisStore) Load(ctx context.Context) (int64, bool, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	v, ok := parseOffset(val)
	return v, ok, nil
}

// Save overwrites the offset.
func (s *RedisStore) Save(ctx context.Context, offset int64) error {
	if err := s.client.Set(ctx, s.key, strconv.FormatInt(offset, 10), 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*RedisStore)(nil)
)

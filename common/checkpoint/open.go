package checkpoint

import (
	"fmt"

	"github.com/telhawk-systems/telhawk-lake/common/config"
)

// Open builds the store selected by cfg.Checkpoint. It returns a nil Store
// for the "none" backend. The returned close function is never nil.
func Open(cfg *config.Config) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Checkpoint.Backend {
	case "", "none":
		return nil, noop, nil
	case "file":
		return NewFileStore(cfg.Checkpoint.File), noop, nil
	case "redis":
		client, err := DialRedis(cfg.Redis.URL)
		if err != nil {
			return nil, noop, err
		}
		key := cfg.Checkpoint.RedisKey
		if key == "" {
			key = KeyFor(cfg.Feed.Topic, cfg.Feed.Group)
		}
		return NewRedisStore(client, key), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: checkpoint backend %q", config.ErrUnknownBackend, cfg.Checkpoint.Backend)
	}
}

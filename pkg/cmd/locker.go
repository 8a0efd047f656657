package cmd

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/cadenzr/cadenza/pkg/lock"
)

// NewLocker builds the per-flow locker. A redis:// URL enables the
// distributed lease so multiple API replicas serialize the same flow; an
// empty URL keeps locking in process.
func NewLocker(lockURL string) (lock.FlowLocker, error) {
	if lockURL == "" {
		return lock.NewLocalLocker(), nil
	}

	if !strings.HasPrefix(lockURL, "redis://") && !strings.HasPrefix(lockURL, "rediss://") {
		return nil, fmt.Errorf("unsupported lock url: %s", lockURL)
	}

	opts, err := redis.ParseURL(lockURL)
	if err != nil {
		return nil, fmt.Errorf("invalid lock url: %w", err)
	}

	return lock.NewRedisLocker(redis.NewClient(opts), ""), nil
}

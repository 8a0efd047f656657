package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLeaseTTL      = 30 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
)

// releaseScript deletes the lease only when it is still owned by the caller.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLocker is a FlowLocker backed by Redis leases, for deployments where
// several processes may receive signals for the same flow. Each lock is a key
// holding an owner token with a TTL, so a crashed holder frees the flow once
// the lease expires.
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	leaseTTL      time.Duration
	retryInterval time.Duration
}

// NewRedisLocker creates a locker on the given client. prefix is optional and
// defaults to "cadenza:".
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "cadenza:"
	}

	return &RedisLocker{
		client:        client,
		prefix:        prefix,
		leaseTTL:      defaultLeaseTTL,
		retryInterval: defaultRetryInterval,
	}
}

func (l *RedisLocker) key(tenantID, flowID string) string {
	return l.prefix + "lock:" + tenantID + ":" + flowID
}

func (l *RedisLocker) Acquire(ctx context.Context, tenantID, flowID string) (func(), error) {
	key := l.key(tenantID, flowID)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		acquired, err := l.client.SetNX(ctx, key, token, l.leaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire flow lock %s: %w", key, err)
		}

		if acquired {
			return l.releaser(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) releaser(key, token string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Best effort. An expired lease releases itself.
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
}

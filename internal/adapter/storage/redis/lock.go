package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still belongs to the caller.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock implements ports.DistributedLock with SET NX PX and an owner token.
type Lock struct {
	client goredis.UniversalClient
	prefix string
}

// NewLock creates a Redis-backed distributed lock.
func NewLock(client goredis.UniversalClient) *Lock {
	return &Lock{
		client: client,
		prefix: "settle:lock:",
	}
}

// Acquire tries to take the lock for ttl. ok is false when someone else holds it.
func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis lock acquire: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the lock if token still owns it. A lock that expired and was
// taken by another owner is left alone.
func (l *Lock) Release(ctx context.Context, key, token string) error {
	err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis lock release: %w", err)
	}
	return nil
}

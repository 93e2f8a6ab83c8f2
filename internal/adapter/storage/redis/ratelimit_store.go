package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"marketplace-settlement/internal/core/ports"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// RateLimitStore is a sliding-window log: each request is a member of a
// sorted set scored by its arrival time in microseconds.
type RateLimitStore struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRateLimitStore(client goredis.UniversalClient) *RateLimitStore {
	return &RateLimitStore{client: client, prefix: "settle:ratelimit:", now: time.Now}
}

// Allow records the request and reports whether it fits in the trailing
// window. Refused requests are removed again so they do not prolong a block.
func (s *RateLimitStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	if window < time.Second {
		window = time.Second
	}
	redisKey := s.prefix + key
	now := s.now()
	nowMicros := now.UnixMicro()
	member := strconv.FormatInt(nowMicros, 10) + ":" + uuid.NewString()

	var (
		count  *goredis.IntCmd
		oldest *goredis.ZSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(nowMicros-window.Microseconds(), 10))
		pipe.ZAdd(ctx, redisKey, goredis.Z{Score: float64(nowMicros), Member: member})
		count = pipe.ZCard(ctx, redisKey)
		oldest = pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
		pipe.PExpire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit window: %w", err)
	}

	n := count.Val()
	allowed := n <= limit
	if !allowed {
		if err := s.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			return nil, fmt.Errorf("redis rate limit rollback: %w", err)
		}
		n--
	}

	resetAt := now.Add(window)
	if z := oldest.Val(); len(z) > 0 {
		resetAt = time.UnixMicro(int64(z[0].Score)).Add(window)
	}

	return &ports.RateLimitResult{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(limit-n, 0),
		ResetAt:   resetAt.Unix() + 1,
	}, nil
}

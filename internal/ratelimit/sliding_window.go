package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/config"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Scores are unix milliseconds; nanoseconds do not fit a Lua double exactly.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, window)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = now
if oldest[2] then
	first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// SlidingWindowLimiter runs the sliding window as one atomic script on redis.
type SlidingWindowLimiter struct {
	redis *storage.RedisClient
	clock func() time.Time
}

func NewSlidingWindowLimiter(redis *storage.RedisClient, clock func() time.Time) *SlidingWindowLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &SlidingWindowLimiter{redis: redis, clock: clock}
}

func (s *SlidingWindowLimiter) Allow(ctx context.Context, key string, limit config.Limit) (Decision, error) {
	redisKey := fmt.Sprintf("ratelimit:sliding:%s", key)
	now := s.clock()
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())

	raw, err := s.redis.Run(ctx, slidingWindowScript, []string{redisKey},
		now.UnixMilli(), limit.Window.Milliseconds(), limit.Requests, member)
	if err != nil {
		return Decision{}, fmt.Errorf("sliding window %s: %w", key, err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("sliding window %s: unexpected reply %v", key, raw)
	}
	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	first, _ := values[2].(int64)

	return Decision{
		Allowed:   allowed == 1,
		Limit:     limit.Requests,
		Remaining: max(limit.Requests-int(count), 0),
		ResetAt:   time.UnixMilli(first).Add(limit.Window),
	}, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments the counter and starts the window on the first hit.
// Returns {count, pttl}.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

var undoScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    local count = redis.call('DECR', KEYS[1])
    if count < 0 then
        redis.call('SET', KEYS[1], 0, 'KEEPTTL')
    end
    return 1
end
return 0
`)

const redisKeyPrefix = "ratelimit:"

type RedisLimiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

func (l *RedisLimiter) Hit(ctx context.Context, key string, max int, win time.Duration) (Decision, error) {
	result, err := hitScript.Run(ctx, l.client, []string{redisKeyPrefix + key}, win.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit hit: %w", err)
	}
	if len(result) != 2 {
		return Decision{}, fmt.Errorf("rate limit hit: unexpected result length %d", len(result))
	}

	resetAt := l.now().Add(time.Duration(result[1]) * time.Millisecond)
	return decide(int(result[0]), max, resetAt), nil
}

func (l *RedisLimiter) Undo(ctx context.Context, key string) error {
	return undoScript.Run(ctx, l.client, []string{redisKeyPrefix + key}).Err()
}

var _ Limiter = (*RedisLimiter)(nil)

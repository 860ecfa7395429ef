package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript consumes one unit of a fixed-window counter.
// Returns: [allowed (0/1), remaining, msUntilReset]
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local count = redis.call('INCR', key)
if count == 1 then
    redis.call('PEXPIRE', key, window)
end

local ttl = redis.call('PTTL', key)
if ttl < 0 then
    redis.call('PEXPIRE', key, window)
    ttl = window
end

if count <= limit then
    return {1, limit - count, ttl}
end
return {0, 0, ttl}
`)

// RedisStore is a Redis-backed fixed-window counter store for deployments
// where quota must be shared across gateway instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "eg:rl:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Take consumes one quota unit for key in the current window.
func (s *RedisStore) Take(ctx context.Context, key string, calls int, period time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	result, err := fixedWindowScript.Run(ctx, s.client,
		[]string{s.prefix + key},
		calls,
		period.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, err
	}

	return Result{
		Allowed:   result[0] == 1,
		Limit:     calls,
		Remaining: int(result[1]),
		Reset:     time.Now().Add(time.Duration(result[2]) * time.Millisecond),
	}, nil
}

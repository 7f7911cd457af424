package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes an author's bucket atomically in
// Redis, so stateless ingest instances share one budget per pubkey.
// KEYS[1] = bucket key, ARGV = refill rate (tokens/sec), capacity, cost,
// current unix time (seconds, fractional).
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "refilled_at")
local tokens = tonumber(state[1])
local refilled_at = tonumber(state[2])

if not tokens or not refilled_at then
    tokens = capacity
    refilled_at = now
end

local elapsed = now - refilled_at
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    refilled_at = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "refilled_at", refilled_at)
redis.call("EXPIRE", key, 120)

return allowed
`)

// RedisStore implements Store on a shared Redis instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the given Redis address.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Allow runs the token bucket script for the author's bucket.
func (s *RedisStore) Allow(ctx context.Context, pubkey string, policy Policy, cost int) (bool, error) {
	key := "ratelimit:author:" + pubkey

	perSecond := float64(policy.EventsPerMinute) / 60.0
	if perSecond <= 0 {
		perSecond = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, s.client, []string{key}, perSecond, policy.Burst, cost, now).Int64()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return res == 1, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// incrScript increments the window counter and sets its expiry in the same
// server-side step. A counter found without an expiry gets one.
var incrScript = goredis.NewScript(`
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

type RedisStore struct {
	rdb goredis.Scripter
}

func NewRedisStore(rdb goredis.Scripter) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil || s.rdb == nil {
		return 0, 0, fmt.Errorf("redis counter store not configured")
	}
	res, err := incrScript.Run(ctx, s.rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	return parseScriptResult(res)
}

func parseScriptResult(res []int64) (int64, time.Duration, error) {
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit script result: %v", res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

/**
 * @description
 * Fixed-window per-user rate limiter over Redis for inbound conversational
 * messages. The INCR and PEXPIRE run inside one Lua script so the window TTL
 * is set exactly once per window even under concurrent deliveries.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client and Lua script support.
 */
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RateLimiter bounds how many inbound messages a user may send per window.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: int64(limit), window: window}
}

// Allow reports whether the user is within their window allowance. When the
// allowance is exhausted, retryAfter is the remaining window duration.
func (l *RateLimiter) Allow(ctx context.Context, userKey string) (allowed bool, retryAfter time.Duration, err error) {
	key := fmt.Sprintf("ratelimit:inbound:%s", userKey)
	res, err := rateLimitScript.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit script: unexpected reply of length %d", len(res))
	}
	count, _ := res[0].(int64)
	ttlMs, _ := res[1].(int64)

	if count > l.limit {
		if ttlMs < 0 {
			ttlMs = l.window.Milliseconds()
		}
		return false, time.Duration(ttlMs) * time.Millisecond, nil
	}
	return true, 0, nil
}

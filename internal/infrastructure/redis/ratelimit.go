package redisinfra

import (
	"context"
	"fmt"

	"github.com/go-auth-session/internal/config"
	"github.com/go-auth-session/internal/domain"
	"github.com/redis/go-redis/v9"
)

// hitLua increments a fixed-window counter and starts the window on the first hit.
// KEYS[1] = counter key
// ARGV[1] = window in milliseconds
var hitLua = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RateLimiter enforces per-(action, ip, email) attempt budgets shared by every
// process through Redis. It never queues; it only rejects.
type RateLimiter struct {
	client redis.UniversalClient
	keys   Keys
	limits map[string]config.RateLimit
}

// NewRateLimiter takes the budget for each action name. Actions without a
// budget, or with Max <= 0, are not limited.
func NewRateLimiter(client redis.UniversalClient, keys Keys, limits map[string]config.RateLimit) *RateLimiter {
	return &RateLimiter{client: client, keys: keys, limits: limits}
}

// Allow records one attempt and returns domain.ErrRateLimited once the window's budget is spent.
func (l *RateLimiter) Allow(ctx context.Context, action, ip, email string) error {
	limit, ok := l.limits[action]
	if !ok || limit.Max <= 0 || limit.Window <= 0 {
		return nil
	}
	count, err := hitLua.Run(ctx, l.client, []string{l.keys.RateLimit(action, ip, email)}, limit.Window.Milliseconds()).Int64()
	if err != nil {
		return unavailable("rate limit", err)
	}
	if count > int64(limit.Max) {
		return fmt.Errorf("%s: %w", action, domain.ErrRateLimited)
	}
	return nil
}

// Reset drops the window so the caller is not penalised for a failure it did not cause.
func (l *RateLimiter) Reset(ctx context.Context, action, ip, email string) error {
	if err := l.client.Del(ctx, l.keys.RateLimit(action, ip, email)).Err(); err != nil {
		return unavailable("reset rate limit", err)
	}
	return nil
}

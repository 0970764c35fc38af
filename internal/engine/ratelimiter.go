package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a sliding-window limiter backed by a Redis sorted set per
// client. Each member is one request scored by its arrival time in ms.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
	limit       int
	window      time.Duration
}

// Trims expired entries, then admits the request if the window has room.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window + 1000)
    return 1
end
return 0
`)

// NewRateLimiter admits at most limit requests per window for each key.
// A non-positive limit disables limiting.
func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
		limit:       limit,
		window:      window,
	}
}

func rlKey(scope, key string) string {
	return fmt.Sprintf("rl:%s:%s", scope, key)
}

// Window is the length of the sliding window.
func (rl *RateLimiter) Window() time.Duration {
	return rl.window
}

// Allow reports whether another request from key fits in the current window
// of scope. It fails open when Redis is unavailable.
func (rl *RateLimiter) Allow(ctx context.Context, scope, key string) bool {
	if rl.limit <= 0 {
		return true
	}

	now := time.Now().UnixMilli()
	member := fmt.Sprintf("%d:%s", now, uuid.NewString())

	result, err := rl.script.Run(ctx, rl.redisClient, []string{rlKey(scope, key)},
		now, rl.window.Milliseconds(), rl.limit, member,
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "scope", scope)
		return true
	}

	if result == 0 {
		rl.logger.Debug("rate limited", "scope", scope, "key", key, "limit", rl.limit)
		return false
	}
	return true
}

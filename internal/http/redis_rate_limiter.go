package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisLimiterPrefix  = "shipit:ratelimit:"
	redisLimiterTimeout = 250 * time.Millisecond
)

// fixedWindow counts a hit and returns the count with the window's remaining
// milliseconds. The window starts on the first hit and a key that lost its
// expiry is given one again, so a counter can never outlive its window.
var fixedWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisRateLimiter shares submission windows between API replicas.
// It fails open: a Redis outage never turns deployments away.
type RedisRateLimiter struct {
	client  redis.UniversalClient
	logger  *slog.Logger
	timeout time.Duration
	onError func(op string)
}

// NewRedisRateLimiter verifies client and takes ownership of it.
func NewRedisRateLimiter(ctx context.Context, client redis.UniversalClient, logger *slog.Logger) (*RedisRateLimiter, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisRateLimiter(client, logger), nil
}

func newRedisRateLimiter(client redis.UniversalClient, logger *slog.Logger) *RedisRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRateLimiter{client: client, logger: logger, timeout: redisLimiterTimeout}
}

// Allow counts one submission against key.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rl.timeout)
	defer cancel()

	res, err := fixedWindow.Run(ctx, rl.client, []string{redisLimiterPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		if err == nil {
			err = fmt.Errorf("unexpected reply %v", res)
		}
		rl.failed("eval", key, err)
		return rateDecision{allowed: true}
	}
	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	return rateDecision{
		allowed:   count <= limit,
		count:     count,
		windowEnd: time.Now().Add(ttl),
	}
}

func (rl *RedisRateLimiter) observeErrors(fn func(op string)) {
	rl.onError = fn
}

func (rl *RedisRateLimiter) failed(op, key string, err error) {
	rl.logger.Warn("rate limiter unavailable, allowing submission", "op", op, "key", key, "error", err)
	if rl.onError != nil {
		rl.onError(op)
	}
}

// Close releases the Redis connection.
func (rl *RedisRateLimiter) Close() {
	_ = rl.client.Close()
}

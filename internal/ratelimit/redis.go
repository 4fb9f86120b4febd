package ratelimit

import (
	"context"
	"fmt"
	"time"

	apperrors "crm-mailer/internal/common/errors"
	"crm-mailer/internal/redis"
)

// slidingWindowScript checks and records in one atomic step. The attempt is
// added to the window only when it is admitted, so denied calls cannot keep
// a saturated key locked out.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`

// RedisLimiter is the distributed sliding-window limiter. All replicas
// evaluating the same key share one window.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := r.now()
	member := fmt.Sprintf("%d", now.UnixNano())

	result, err := r.client.Eval(ctx, slidingWindowScript,
		[]string{"ratelimit:" + key},
		now.UnixMilli(), r.window.Milliseconds(), r.limit, member)
	if err != nil {
		return false, apperrors.InternalError("rate limit check failed", err)
	}

	allowed, ok := result.(int64)
	if !ok {
		return false, apperrors.InternalError(
			fmt.Sprintf("unexpected rate limit script result: %v", result), nil)
	}

	return allowed == 1, nil
}

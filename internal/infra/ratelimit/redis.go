package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"

	"github.com/redis/go-redis/v9"
)

var allowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisLimiter shares fixed-window counters between replicas.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Now      func() time.Time
}

func NewRedisLimiter(cfg RedisConfig) (*RedisLimiter, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisLimiter(client, cfg.Prefix, cfg.Now), nil
}

func newRedisLimiter(client redis.Scripter, prefix string, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	if prefix == "" {
		prefix = "certassist:ratelimit:"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: now}
}

// Ping checks connectivity, used at startup so a bad address fails fast.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	c, ok := r.client.(interface {
		Ping(ctx context.Context) *redis.StatusCmd
	})
	if !ok {
		return nil
	}
	return c.Ping(ctx).Err()
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, span time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	spanMillis := span.Milliseconds()
	if spanMillis <= 0 {
		spanMillis = 1000
	}
	result, err := allowScript.Run(ctx, r.client, []string{r.prefix + key}, spanMillis).Result()
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	return decodeReply(result, limit, r.now())
}

func decodeReply(result any, limit int, now time.Time) (domain.RateLimitDecision, error) {
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return domain.RateLimitDecision{}, errors.New("unexpected redis rate limit response")
	}
	current, ok := values[0].(int64)
	if !ok {
		return domain.RateLimitDecision{}, errors.New("invalid redis counter response")
	}
	ttlMillis, _ := values[1].(int64)
	resetAt := now
	if ttlMillis > 0 {
		resetAt = resetAt.Add(time.Duration(ttlMillis) * time.Millisecond)
	}
	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outreachiq/jobengine/internal/joberrors"
)

// RedisLimiter keeps one counter per resource key and window. INCR is the
// atomic check-and-increment; the key expires shortly after the window ends
// so counters clean themselves up.
type RedisLimiter struct {
	rdb          *redis.Client
	boundaryHour int
	now          func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, boundaryHour int) *RedisLimiter {
	return &RedisLimiter{
		rdb:          rdb,
		boundaryHour: boundaryHour,
		now:          time.Now,
	}
}

func (l *RedisLimiter) CheckAndReserve(ctx context.Context, resourceKey string, limit int) (Decision, error) {
	now := l.now()
	windowStart, windowEnd := WindowFor(now, l.boundaryHour)
	key := windowKey(resourceKey, windowStart)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// Expire an hour after the window closes; NX keeps the first writer's
	// deadline authoritative.
	pipe.ExpireNX(ctx, key, windowEnd.Sub(now)+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, joberrors.Persistence("check_and_reserve", err)
	}

	if incr.Val() > int64(limit) {
		return Decision{RetryAfter: windowEnd.Sub(now)}, nil
	}
	return Decision{Allowed: true}, nil
}

func windowKey(resourceKey string, windowStart time.Time) string {
	return fmt.Sprintf("ratewindow:%s:%d", resourceKey, windowStart.Unix())
}

// Package limiter bounds chat turns per tenant over a fixed hourly window,
// backed by redis.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// TurnLimiter counts chat turns per tenant per hour.
type TurnLimiter struct {
	redis *redis.Client
	limit int64
}

// NewTurnLimiter creates a limiter allowing limit turns per tenant per hour.
func NewTurnLimiter(rdb *redis.Client, limit int64) *TurnLimiter {
	return &TurnLimiter{redis: rdb, limit: limit}
}

// Allow records one turn for the tenant and reports whether it fits the
// current window.
func (l *TurnLimiter) Allow(ctx context.Context, tenant string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("gateway:turns:%s:%s", tenant, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, l.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= l.limit, res, windowEnd, nil
}

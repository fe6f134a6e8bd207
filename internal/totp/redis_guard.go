package totp

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard implements ReplayGuard with SET NX on a prefixed key.
type RedisGuard struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisGuard returns nil when rdb is nil so callers can pass the result
// straight to NewEngine.
func NewRedisGuard(rdb *redis.Client, prefix string) ReplayGuard {
	if rdb == nil {
		return nil
	}
	return &RedisGuard{rdb: rdb, prefix: prefix}
}

// Claim marks key as used for ttl and reports whether it was unused before.
func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.rdb.SetNX(ctx, g.prefix+":"+key, 1, ttl).Result()
}

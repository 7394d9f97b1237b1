package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const runLockKey = "matcher:run_lock"

// RedisLocker implements Locker with a SET NX lease so a cron tick and a
// manual trigger never run the batch concurrently. The TTL bounds how long a
// crashed run can block its successors.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLocker returns a locker whose lease lasts ttl.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

// Acquire tries to take the lease. False means another run holds it.
func (l *RedisLocker) Acquire(ctx context.Context) (bool, error) {
	return l.rdb.SetNX(ctx, runLockKey, "1", l.ttl).Result()
}

// Release drops the lease. Non-fatal on failure: the TTL expires it anyway.
func (l *RedisLocker) Release(ctx context.Context) {
	if err := l.rdb.Del(ctx, runLockKey).Err(); err != nil {
		slog.Warn("release run lock failed", "err", err)
	}
}

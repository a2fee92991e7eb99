package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sbilibin2017/gw-payflow/internal/logger"
)

// LockOptions configures distributed lock acquisition.
type LockOptions struct {
	Expiry      time.Duration // TTL of the lock key
	Tries       int           // Acquisition attempts before giving up
	RetryDelay  time.Duration // Delay between attempts
	DriftFactor float64       // Clock drift allowance
	Prefix      string        // Prepended to every lock key
}

// DefaultLockOptions returns options suited to short ledger critical sections.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:      10 * time.Second,
		Tries:       32,
		RetryDelay:  50 * time.Millisecond,
		DriftFactor: 0.01,
		Prefix:      "payflow:lock:",
	}
}

// RedisLocker serializes work per key across processes using redsync.
type RedisLocker struct {
	rs   *redsync.Redsync
	opts LockOptions
}

// NewRedisLocker creates a RedisLocker on top of an existing redis client.
func NewRedisLocker(client redis.UniversalClient, opts LockOptions) *RedisLocker {
	return &RedisLocker{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
	}
}

// WithLock runs fn while holding the distributed lock for key.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	name := l.opts.Prefix + key
	mutex := l.rs.NewMutex(
		name,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
		redsync.WithDriftFactor(l.opts.DriftFactor),
	)

	if err := mutex.LockContext(ctx); err != nil {
		logger.Log.Errorw("failed to acquire lock", "key", name, "error", err)
		return fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}

	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			logger.Log.Warnw("failed to release lock", "key", name, "ok", ok, "error", err)
		}
	}()

	return fn(ctx)
}

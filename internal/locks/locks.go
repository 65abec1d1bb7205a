// Package locks provides the short-lived mutual exclusion used by the
// execution service so that only one replica drains the pending-event queue at
// a time.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"area-engine/internal/common/logging"
	"area-engine/internal/redis"
)

// Locker acquires named locks without blocking. When acquired is false the
// returned unlock func is nil.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

// RedsyncLocker holds locks in Redis via redsync.
type RedsyncLocker struct {
	rs     *redsync.Redsync
	logger logging.Logger
}

func NewRedsyncLocker(client *redis.Client, logger logging.Logger) (*RedsyncLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	pool := goredis.NewPool(client.Redis())
	return &RedsyncLocker{rs: redsync.New(pool), logger: logger}, nil
}

func (l *RedsyncLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	mutex := l.rs.NewMutex("lock:"+key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		l.logger.Debug("Lock held elsewhere",
			logging.String("key", key),
			logging.Err(err),
		)
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("lock %s expired before release", key)
		}
		return nil
	}
	return unlock, true, nil
}

// LocalLocker is an in-process Locker for single-replica deployments.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), nowFn: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.held[key] = until

	unlock := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// a newer holder may own the key after expiry
		if l.held[key].Equal(until) {
			delete(l.held, key)
		}
		return nil
	}
	return unlock, true, nil
}

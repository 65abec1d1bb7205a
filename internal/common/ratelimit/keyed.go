// Package ratelimit spaces outbound provider requests per key using
// golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls a KeyedLimiter.
type Config struct {
	// MinInterval is the minimum spacing between two requests for one key.
	MinInterval time.Duration
	// Burst lets that many requests through back to back. Defaults to 1.
	Burst int
	// Idle limiters are dropped after CleanupPeriod.
	CleanupPeriod time.Duration
	MaxKeys       int
}

func (c *Config) Validate() error {
	if c.MinInterval <= 0 {
		return fmt.Errorf("MinInterval must be positive, got %v", c.MinInterval)
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.CleanupPeriod <= 0 {
		c.CleanupPeriod = 10 * time.Minute
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 10000
	}
	return nil
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// KeyedLimiter holds one token bucket per key.
type KeyedLimiter struct {
	mu          sync.Mutex
	config      Config
	limiters    map[string]*limiterEntry
	lastCleanup time.Time
}

func NewKeyedLimiter(config Config) (*KeyedLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &KeyedLimiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}, nil
}

// WaitForKey blocks until a request for key may be issued or ctx is done.
func (l *KeyedLimiter) WaitForKey(ctx context.Context, key string) error {
	return l.limiterFor(key).Wait(ctx)
}

// TryAcquireForKey takes a token for key without blocking.
func (l *KeyedLimiter) TryAcquireForKey(key string) bool {
	return l.limiterFor(key).Allow()
}

// Forget drops the limiter state for key.
func (l *KeyedLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *KeyedLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastCleanup) > l.config.CleanupPeriod {
		l.cleanup(now)
	}

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(l.config.MinInterval), l.config.Burst)}
		l.limiters[key] = entry
		if len(l.limiters) > l.config.MaxKeys {
			l.cleanup(now)
		}
	}
	entry.lastUsed = now
	return entry.limiter
}

func (l *KeyedLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.config.CleanupPeriod)
	for key, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
	l.lastCleanup = now
}

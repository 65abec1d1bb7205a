// Package ratelimit caps inbound HTTP requests per key with fixed windows.
// Counters live in Redis when replicas share one, in process memory otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/redis"
)

// Counter increments a window counter, creating it with ttl window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter counts with INCR and EXPIRE.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	rdb := c.client.Redis()
	n, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := rdb.Expire(ctx, key, window).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// LocalCounter counts in process memory.
type LocalCounter struct {
	cache *gocache.Cache
}

func NewLocalCounter() *LocalCounter {
	return &LocalCounter{cache: gocache.New(time.Minute, 5*time.Minute)}
}

func (c *LocalCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	// Add fails when the window already exists, which is fine.
	_ = c.cache.Add(key, int64(0), window)
	return c.cache.IncrementInt64(key, 1)
}

type Config struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
	Prefix string        `json:"prefix"`
}

type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

type Limiter struct {
	counter Counter
	config  Config
	logger  logging.Logger
	nowFn   func() time.Time
}

// NewLimiter creates a Limiter. A Limit of zero or less disables limiting.
func NewLimiter(counter Counter, config Config, logger logging.Logger) *Limiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Prefix == "" {
		config.Prefix = "rate_limit"
	}
	if counter == nil {
		counter = NewLocalCounter()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Limiter{counter: counter, config: config, logger: logger, nowFn: time.Now}
}

func (l *Limiter) Enabled() bool {
	return l.config.Limit > 0
}

// Check counts one request for key in the current window.
func (l *Limiter) Check(ctx context.Context, key string) (*RateLimit, error) {
	now := l.nowFn()
	start := now.Truncate(l.config.Window)
	reset := start.Add(l.config.Window)

	windowKey := fmt.Sprintf("%s:%s:%d", l.config.Prefix, key, start.Unix())
	n, err := l.counter.Incr(ctx, windowKey, l.config.Window)
	if err != nil {
		return nil, errors.InternalError("failed to check rate limit", err)
	}

	remaining := l.config.Limit - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimit{Limit: l.config.Limit, Remaining: remaining, ResetTime: reset}, nil
}

// HTTPMiddleware rejects requests over the limit with 429. Requests without a
// key, or whose counter fails, are let through.
func (l *Limiter) HTTPMiddleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			rl, err := l.Check(r.Context(), key)
			if err != nil {
				l.logger.Warn("Rate limit check failed", logging.String("key", key), logging.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetTime.Unix(), 10))

			if rl.Remaining <= 0 && rl.Limit > 0 {
				retry := int(rl.ResetTime.Sub(l.nowFn()).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"Rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPBasedKey keys on the first forwarded address, else the peer address.
func IPBasedKey(r *http.Request) string {
	ip := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0])
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}
	return "ip:" + ip
}

// UserBasedKey keys on the X-User-ID header set by the auth middleware.
func UserBasedKey(r *http.Request) string {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		return ""
	}
	return "user:" + userID
}

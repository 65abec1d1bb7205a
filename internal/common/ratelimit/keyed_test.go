package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLimiterSpacesRequests(t *testing.T) {
	limiter, err := NewKeyedLimiter(Config{MinInterval: 100 * time.Millisecond})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, limiter.WaitForKey(ctx, "user-1"))
	first := time.Now()
	require.NoError(t, limiter.WaitForKey(ctx, "user-1"))
	second := time.Now()

	// rate reserves with sub-millisecond rounding; allow a little slack.
	assert.GreaterOrEqual(t, second.Sub(first), 90*time.Millisecond)
}

func TestKeyedLimiterKeysAreIndependent(t *testing.T) {
	limiter, err := NewKeyedLimiter(Config{MinInterval: time.Hour})
	require.NoError(t, err)

	assert.True(t, limiter.TryAcquireForKey("alice"))
	assert.False(t, limiter.TryAcquireForKey("alice"))
	assert.True(t, limiter.TryAcquireForKey("bob"))
	assert.Equal(t, 2, limiter.Len())

	limiter.Forget("alice")
	assert.True(t, limiter.TryAcquireForKey("alice"))
}

func TestKeyedLimiterHonoursContext(t *testing.T) {
	limiter, err := NewKeyedLimiter(Config{MinInterval: time.Hour})
	require.NoError(t, err)
	require.True(t, limiter.TryAcquireForKey("alice"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.WaitForKey(ctx, "alice"))
}

func TestConfigValidate(t *testing.T) {
	_, err := NewKeyedLimiter(Config{})
	assert.Error(t, err)

	cfg := Config{MinInterval: time.Second}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Burst)
	assert.Equal(t, 10000, cfg.MaxKeys)
}

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("requires config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("fails when unreachable", func(t *testing.T) {
		_, err := NewClient(&Config{Address: "127.0.0.1:1"})
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		assert.Equal(t, 10, client.config.PoolSize)
		assert.NoError(t, client.Health())
	})
}

func TestJSONHelpers(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	type state struct {
		IDs []string `json:"ids"`
	}

	require.NoError(t, client.SetJSON(ctx, "poll:state:reddit:u1:r/golang", state{IDs: []string{"t3_a"}}, time.Hour))
	assert.True(t, mr.Exists("poll:state:reddit:u1:r/golang"))

	var got state
	found, err := client.GetJSON(ctx, "poll:state:reddit:u1:r/golang", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"t3_a"}, got.IDs)

	found, err = client.GetJSON(ctx, "poll:state:missing", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.SetJSON(ctx, "poll:state:reddit:u2:r/go", state{}, 0))
	require.NoError(t, client.SetJSON(ctx, "other:key", state{}, 0))
	require.NoError(t, client.DeletePattern(ctx, "poll:state:reddit:*"))
	assert.False(t, mr.Exists("poll:state:reddit:u1:r/golang"))
	assert.False(t, mr.Exists("poll:state:reddit:u2:r/go"))
	assert.True(t, mr.Exists("other:key"))
}

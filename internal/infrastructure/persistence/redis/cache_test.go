package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "redis"
	cfg.Port = 6380
	cfg.DB = 2

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 4, opts.PoolSize)
	assert.Equal(t, time.Second, opts.ReadTimeout)
}

func TestConfig_OptionsFromURL(t *testing.T) {
	cfg := Config{URL: "redis://:secret@cache.local:6390/3", PoolSize: 8}

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.local:6390", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 8, opts.PoolSize)

	_, err = Config{URL: "http://nope"}.Options()
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "snapshot:study_timer:session", SnapshotKey("study_timer:session"))
	assert.Equal(t, "pubsub:timer-events", PubSubChannel("timer-events"))
}

func TestNewCache_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.DialTimeout = 200 * time.Millisecond

	cache, err := NewCache(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, cache)
	assert.True(t, errors.Is(err, ErrCacheConnection))
}

func TestCache_ValidatesArguments(t *testing.T) {
	c := &Cache{}
	ctx := context.Background()

	assert.ErrorIs(t, c.SetBytes(ctx, "", []byte("x"), 0), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.SetBytes(ctx, "k", []byte("x"), -time.Second), ErrCacheInvalidTTL)

	_, err := c.GetBytes(ctx, "")
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)

	assert.NoError(t, c.Delete(ctx))
	assert.ErrorIs(t, c.Publish(ctx, "", nil), ErrCacheKeyEmpty)
}

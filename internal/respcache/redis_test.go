// SPDX-License-Identifier: MIT

package respcache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielliaow/assistant-stream/internal/assistant"
)

func newRedisCache(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	c, err := NewRedis(RedisConfig{Addr: srv.Addr()}, testTTL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func TestRedisRoundTrip(t *testing.T) {
	c, _ := newRedisCache(t)
	c.Set("Hello", assistant.QueryResult{Response: "v", FullResponse: "vv"})

	got, ok := c.Get("  hello  ")
	require.True(t, ok)
	assert.Equal(t, "v", got.Response)
	assert.Equal(t, "vv", got.FullResponse)
	assert.Equal(t, 1, c.Size())
}

func TestRedisMiss(t *testing.T) {
	c, _ := newRedisCache(t)
	_, ok := c.Get("absent")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestRedisServerSideExpiry(t *testing.T) {
	c, srv := newRedisCache(t)
	c.Set("q", assistant.QueryResult{Response: "v"})

	srv.FastForward(testTTL + time.Second)
	_, ok := c.Get("q")
	assert.False(t, ok)
}

func TestRedisCorruptEntryDropped(t *testing.T) {
	c, srv := newRedisCache(t)
	require.NoError(t, srv.Set(redisKeyPrefix+"q", "{not json"))

	_, ok := c.Get("q")
	assert.False(t, ok)
	assert.False(t, srv.Exists(redisKeyPrefix+"q"), "corrupt entry must be dropped")
}

func TestRedisConnectionFailure(t *testing.T) {
	_, err := NewRedis(RedisConfig{Addr: "127.0.0.1:1"}, testTTL)
	require.Error(t, err)
}

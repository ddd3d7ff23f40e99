// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()

	srv := miniredis.RunT(t)
	c, err := NewRedis(srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return srv, c
}

func TestRedisRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, c := newTestRedis(t)

	_, ok := c.Get(ctx, "verdict:abc")
	assert.False(t, ok)

	c.Set(ctx, "verdict:abc", []byte(`{"approved":true,"reason":"safe 0.6"}`), time.Hour)

	got, ok := c.Get(ctx, "verdict:abc")
	require.True(t, ok)
	assert.Contains(t, string(got), `"approved":true`)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRedisTTLExpiry(t *testing.T) {
	ctx := context.Background()
	srv, c := newTestRedis(t)

	c.Set(ctx, "k", []byte("v"), time.Second)
	srv.FastForward(2 * time.Second)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisDelete(t *testing.T) {
	ctx := context.Background()
	_, c := newTestRedis(t)

	c.Set(ctx, "k", []byte("v"), time.Hour)
	c.Delete(ctx, "k")

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisDownDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	srv, c := newTestRedis(t)

	c.Set(ctx, "k", []byte("v"), time.Hour)
	srv.Close()

	// Lookups against a dead server are misses, not errors.
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	// Writes are swallowed.
	c.Set(ctx, "k2", []byte("v2"), time.Hour)
}

func TestNewRedisUnreachable(t *testing.T) {
	_, err := NewRedis("127.0.0.1:1")
	require.Error(t, err)
}

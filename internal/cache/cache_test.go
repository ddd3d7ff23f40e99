// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	defer func() { _ = c.Close() }()

	_, ok := c.Get(ctx, "verdict:abc")
	assert.False(t, ok)

	c.Set(ctx, "verdict:abc", []byte(`{"approved":true}`), time.Minute)

	got, ok := c.Get(ctx, "verdict:abc")
	require.True(t, ok)
	assert.JSONEq(t, `{"approved":true}`, string(got))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	defer func() { _ = c.Close() }()

	c.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryZeroTTLDisablesWrite(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	defer func() { _ = c.Close() }()

	c.Set(ctx, "k", []byte("v"), 0)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, c.Stats().Sets)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	defer func() { _ = c.Close() }()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Delete(ctx, "k")

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryJanitorEvicts(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10 * time.Millisecond)
	defer func() { _ = c.Close() }()

	c.Set(ctx, "k", []byte("v"), time.Millisecond)

	assert.Eventually(t, func() bool {
		return c.Stats().Evictions >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestBadgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	_, ok := c.Get(ctx, "verdict:abc")
	assert.False(t, ok)

	c.Set(ctx, "verdict:abc", []byte(`{"approved":false}`), time.Minute)

	got, ok := c.Get(ctx, "verdict:abc")
	require.True(t, ok)
	assert.JSONEq(t, `{"approved":false}`, string(got))

	c.Delete(ctx, "verdict:abc")
	_, ok = c.Get(ctx, "verdict:abc")
	assert.False(t, ok)
}

func TestOpenFactory(t *testing.T) {
	c, err := Open(Config{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)
	_ = c.Close()

	c, err = Open(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c, "memory is the default backend")
	_ = c.Close()

	c, err = Open(Config{Backend: "badger", BadgerDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Badger{}, c)
	_ = c.Close()

	_, err = Open(Config{Backend: "memcached"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cache backend")
}

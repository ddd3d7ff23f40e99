// SPDX-License-Identifier: MIT

// Package cache stores moderation verdicts keyed by submission URL hash.
// A cache failure is never allowed to fail a moderation check: lookups
// degrade to a miss, writes are fire-and-forget.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the verdict cache. Values are opaque bytes (JSON-encoded
// verdicts); TTL handling is per backend.
type Store interface {
	// Get returns the value for key, or false on miss, expiry or error.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key for ttl. Errors are logged, not returned.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Delete removes key.
	Delete(ctx context.Context, key string)
	// Stats returns lookup counters.
	Stats() Stats
	Close() error
}

// Stats holds cache performance counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
}

// Config selects and parameterizes a cache backend.
type Config struct {
	Backend   string // "memory", "redis" or "badger"
	RedisAddr string
	BadgerDir string
}

// Open creates a Store for the configured backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(time.Minute), nil
	case "redis":
		return NewRedis(cfg.RedisAddr)
	case "badger":
		return OpenBadger(cfg.BadgerDir)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s (supported: memory, redis, badger)", cfg.Backend)
	}
}

type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiration)
}

// Memory is a mutex-guarded in-process cache with a background janitor.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stats   Stats

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemory creates an in-memory cache. cleanupInterval > 0 starts a
// janitor goroutine that evicts expired entries; Close stops it.
func NewMemory(cleanupInterval time.Duration) *Memory {
	c := &Memory{
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	}
	return c
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value, expiration: time.Now().Add(ttl)}
	c.stats.Sets++
}

func (c *Memory) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Memory) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Memory) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Memory) deleteExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
}

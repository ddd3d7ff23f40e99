// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamjuke/streamjuke/internal/log"
)

// Redis is a redis-backed verdict cache. Failures degrade to misses so a
// flapping redis never blocks the pipeline.
type Redis struct {
	client *redis.Client

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// NewRedis connects to the redis server at addr and verifies the
// connection with a bounded ping.
func NewRedis(addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger := log.WithComponent("cache")
	logger.Info().Str("addr", addr).Msg("connected to redis verdict cache")
	return &Redis{client: client}, nil
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger := log.WithComponent("cache")
			logger.Warn().Err(err).Msg("redis get failed")
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return val, true
}

func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		logger := log.WithComponent("cache")
		logger.Warn().Err(err).Msg("redis set failed")
		return
	}
	c.sets.Add(1)
}

func (c *Redis) Delete(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, key).Err(); err != nil {
		logger := log.WithComponent("cache")
		logger.Warn().Err(err).Msg("redis delete failed")
	}
}

func (c *Redis) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
	}
}

func (c *Redis) Close() error {
	return c.client.Close()
}

// HealthCheck reports whether redis answers a ping.
func (c *Redis) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

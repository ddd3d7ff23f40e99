// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/streamjuke/streamjuke/internal/log"
)

// Badger is an embedded on-disk verdict cache. Verdicts survive restarts
// without an external service; TTL is enforced by badger itself.
type Badger struct {
	db *badger.DB

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// OpenBadger opens (or creates) the badger database at dir.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	logger := log.WithComponent("cache")
	logger.Info().Str(log.FieldPath, dir).Msg("opened badger verdict cache")
	return &Badger{db: db}, nil
}

func (c *Badger) Get(_ context.Context, key string) ([]byte, bool) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			logger := log.WithComponent("cache")
			logger.Warn().Err(err).Msg("badger get failed")
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return value, true
}

func (c *Badger) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value).WithTTL(ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		logger := log.WithComponent("cache")
		logger.Warn().Err(err).Msg("badger set failed")
		return
	}
	c.sets.Add(1)
}

func (c *Badger) Delete(_ context.Context, key string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		logger := log.WithComponent("cache")
		logger.Warn().Err(err).Msg("badger delete failed")
	}
}

func (c *Badger) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
	}
}

func (c *Badger) Close() error {
	return c.db.Close()
}

// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore implements Store with a mutex-guarded map. Used by tests
// and throwaway runs; state does not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Item
}

// NewMemoryStore creates an empty in-memory queue store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*Item)}
}

func (s *MemoryStore) Enqueue(ctx context.Context, item *Item) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxPos int64
	for _, it := range s.items {
		if it.Status == StatusPending && it.Position > maxPos {
			maxPos = it.Position
		}
	}

	item.Status = StatusPending
	item.Position = maxPos + 1
	clone := *item
	s.items[item.ID] = &clone
	return item.Position, nil
}

func (s *MemoryStore) Dequeue(ctx context.Context) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := s.pendingLocked()
	if len(pending) == 0 {
		return nil, nil
	}
	clone := *pending[0]
	return &clone, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *it
	return &clone, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if err := ValidateTransition(it.Status, status); err != nil {
		return err
	}
	it.Status = status
	it.ErrorMessage = errorMessage
	return nil
}

func (s *MemoryStore) UpdateEnrichment(ctx context.Context, id uuid.UUID, filePath, title string, durationSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	it.FilePath = filePath
	it.Title = title
	it.DurationSeconds = durationSeconds
	return nil
}

func (s *MemoryStore) Queue(ctx context.Context, limit int) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := s.pendingLocked()
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]*Item, 0, len(pending))
	for _, it := range pending {
		clone := *it
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryStore) NowPlaying(ctx context.Context) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, it := range s.items {
		if it.Status == StatusPlaying {
			clone := *it
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) PositionOf(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for rank, it := range s.pendingLocked() {
		if it.ID == id {
			return rank + 1, nil
		}
	}
	return 0, ErrNotFound
}

func (s *MemoryStore) ClearPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, it := range s.items {
		if it.Status == StatusPending {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false, nil
	}
	delete(s.items, id)
	return true, nil
}

func (s *MemoryStore) RepairInterrupted(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, it := range s.items {
		if it.Status == StatusDownloading || it.Status == StatusPlaying {
			it.Status = StatusFailed
			it.ErrorMessage = InterruptedReason
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PendingCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pendingLocked()), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
	return nil
}

// pendingLocked returns pending items sorted by position. Caller holds a lock.
func (s *MemoryStore) pendingLocked() []*Item {
	var pending []*Item
	for _, it := range s.items {
		if it.Status == StatusPending {
			pending = append(pending, it)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Position < pending[j].Position })
	return pending
}

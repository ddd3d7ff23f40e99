// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound reports an id with no matching row.
	ErrNotFound = errors.New("queue: item not found")
	// ErrInvalidTransition reports a status edge outside the lifecycle graph.
	ErrInvalidTransition = errors.New("queue: invalid transition")
)

// Store is the durable FIFO. Enqueue is safe under concurrent callers;
// everything else is driven by the single worker and the command surface.
type Store interface {
	// Enqueue assigns the next position among pending rows and inserts
	// the item. The assigned position is written back to item.Position.
	Enqueue(ctx context.Context, item *Item) (int64, error)
	// Dequeue returns the pending item with the lowest position without
	// removing it, or nil when the queue is empty.
	Dequeue(ctx context.Context) (*Item, error)
	// Get returns the item by id.
	Get(ctx context.Context, id uuid.UUID) (*Item, error)
	// UpdateStatus validates the transition against the lifecycle graph
	// and persists status plus error detail atomically.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, errorMessage string) error
	// UpdateEnrichment persists the fields the fetch stage fills in.
	UpdateEnrichment(ctx context.Context, id uuid.UUID, filePath, title string, durationSeconds float64) error
	// Queue returns the next limit pending items in position order.
	Queue(ctx context.Context, limit int) ([]*Item, error)
	// NowPlaying returns the item in playing status, or nil.
	NowPlaying(ctx context.Context) (*Item, error)
	// PositionOf returns the 1-based rank of id among pending rows.
	PositionOf(ctx context.Context, id uuid.UUID) (int, error)
	// ClearPending deletes all pending rows and reports how many.
	ClearPending(ctx context.Context) (int, error)
	// Remove deletes one row, reporting whether it existed.
	Remove(ctx context.Context, id uuid.UUID) (bool, error)
	// RepairInterrupted rewrites crash remnants (downloading, playing)
	// to failed with reason "interrupted". Runs before the worker loop.
	RepairInterrupted(ctx context.Context) (int, error)
	// PendingCount reports the number of pending rows.
	PendingCount(ctx context.Context) (int, error)
	Close() error
}

// InterruptedReason is the error detail written by startup repair.
const InterruptedReason = "interrupted"

// Open creates a Store for the configured backend.
func Open(backend, path string) (Store, error) {
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(path, DefaultSQLiteConfig())
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: sqlite, memory)", backend)
	}
}

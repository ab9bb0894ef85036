package offline

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// QueueItem is one deferred write waiting for replay.
type QueueItem struct {
	ID         string
	Operation  Operation
	Variables  map[string]any
	EnqueuedAt time.Time
	RetryCount int
	MaxRetries int
	TenantID   string
	LastError  string
}

// Exhausted reports whether the item has used up its retry budget.
func (i QueueItem) Exhausted() bool {
	return i.RetryCount >= i.MaxRetries
}

// QueueStore persists queue items. Load must return items in enqueue order.
type QueueStore interface {
	Load(ctx context.Context) ([]QueueItem, error)
	Insert(ctx context.Context, item QueueItem) error
	UpdateRetry(ctx context.Context, id string, retryCount int, lastError string) error
	Delete(ctx context.Context, id string) error
}

// Normalizer is implemented by stores whose encoding changes the Go types of
// payloads or variables. The queue keeps the normalized form in memory so a
// replay sees the same values whether or not the process restarted since the
// item was enqueued.
type Normalizer interface {
	Normalize(item QueueItem) (QueueItem, error)
}

// Queue is the durable FIFO of pending writes. Every change is written to the
// store before the in-memory view is updated, so a failed write leaves both
// unchanged.
type Queue struct {
	mu    sync.Mutex
	items []QueueItem
	store QueueStore
}

// OpenQueue loads persisted items from store, preserving their order.
func OpenQueue(ctx context.Context, store QueueStore) (*Queue, error) {
	items, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load offline queue: %w", err)
	}
	return &Queue{items: items, store: store}, nil
}

// Enqueue appends item to the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, item QueueItem) error {
	if item.ID == "" {
		return fmt.Errorf("offline: queue item id is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexOf(item.ID) >= 0 {
		return fmt.Errorf("offline: queue item %s already enqueued", item.ID)
	}
	item, err := q.Normalize(item)
	if err != nil {
		return err
	}
	if err := q.store.Insert(ctx, item); err != nil {
		return fmt.Errorf("persist queue item: %w", err)
	}
	q.items = append(q.items, item)
	return nil
}

// Normalize returns item in the form the store hands back on Load. Stores
// that do not implement Normalizer keep values as they are.
func (q *Queue) Normalize(item QueueItem) (QueueItem, error) {
	n, ok := q.store.(Normalizer)
	if !ok {
		return item, nil
	}
	normalized, err := n.Normalize(item)
	if err != nil {
		return QueueItem{}, fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}
	return normalized, nil
}

// Remove deletes the item with id.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return ErrNotFound
	}
	if err := q.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	return nil
}

// IncrementRetry bumps the retry counter of id, records lastError and
// returns the updated item.
func (q *Queue) IncrementRetry(ctx context.Context, id, lastError string) (QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return QueueItem{}, ErrNotFound
	}

	item := q.items[idx]
	item.RetryCount++
	item.LastError = lastError
	if err := q.store.UpdateRetry(ctx, id, item.RetryCount, lastError); err != nil {
		return QueueItem{}, fmt.Errorf("update queue item: %w", err)
	}
	q.items[idx] = item
	return item, nil
}

// Get returns the item with id.
func (q *Queue) Get(id string) (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return QueueItem{}, false
	}
	return q.items[idx], true
}

// All returns a snapshot of the queue in enqueue order.
func (q *Queue) All() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Size returns the number of pending items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) indexOf(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/shelfsignal/backend/internal/domain"
)

// QueueKey is where the queue lives in the key-value store
const QueueKey = "sync:queue"

// KVQueue is a FIFO of sync items persisted as one JSON array in a key-value
// store. It survives restarts whenever the store does.
type KVQueue struct {
	kv    domain.KVStore
	key   string
	mutex sync.Mutex
}

// NewKVQueue creates a queue stored under QueueKey
func NewKVQueue(kv domain.KVStore) *KVQueue {
	return &KVQueue{kv: kv, key: QueueKey}
}

// Enqueue appends item, assigning an id when it has none
func (q *KVQueue) Enqueue(ctx context.Context, item domain.SyncQueueItem) (domain.SyncQueueItem, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return domain.SyncQueueItem{}, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	items = append(items, item)
	if err := q.save(ctx, items); err != nil {
		return domain.SyncQueueItem{}, err
	}
	return item, nil
}

// Peek returns the oldest item without removing it
func (q *KVQueue) Peek(ctx context.Context) (domain.SyncQueueItem, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return domain.SyncQueueItem{}, err
	}
	if len(items) == 0 {
		return domain.SyncQueueItem{}, domain.ErrQueueEmpty
	}
	return items[0], nil
}

// Update replaces the stored item with the same id, keeping its place
func (q *KVQueue) Update(ctx context.Context, item domain.SyncQueueItem) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			return q.save(ctx, items)
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrQueueItemNotFound, item.ID)
}

// Remove deletes the item with id
func (q *KVQueue) Remove(ctx context.Context, id string) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ID == id {
			items = append(items[:i], items[i+1:]...)
			return q.save(ctx, items)
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrQueueItemNotFound, id)
}

// List returns all items, oldest first
func (q *KVQueue) List(ctx context.Context) ([]domain.SyncQueueItem, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.load(ctx)
}

// Len returns the number of queued items
func (q *KVQueue) Len(ctx context.Context) (int, error) {
	items, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (q *KVQueue) load(ctx context.Context) ([]domain.SyncQueueItem, error) {
	raw, err := q.kv.Get(ctx, q.key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return []domain.SyncQueueItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load queue: %v", domain.ErrStoreUnavailable, err)
	}

	var items []domain.SyncQueueItem
	if err := json.Unmarshal(raw, &items); err != nil {
		log.Printf("[QUEUE] corrupted queue, starting empty: %v", err)
		return []domain.SyncQueueItem{}, nil
	}
	return items, nil
}

func (q *KVQueue) save(ctx context.Context, items []domain.SyncQueueItem) error {
	if len(items) == 0 {
		return q.kv.Delete(ctx, q.key)
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.kv.Set(ctx, q.key, raw); err != nil {
		return fmt.Errorf("%w: save queue: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

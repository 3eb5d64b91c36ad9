package domain

import "context"

// KVStore is the namespaced local key-value persistence
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// SyncQueue is the persisted FIFO of undelivered remote operations
type SyncQueue interface {
	Enqueue(ctx context.Context, item SyncQueueItem) (SyncQueueItem, error)
	Peek(ctx context.Context) (SyncQueueItem, error)
	Update(ctx context.Context, item SyncQueueItem) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]SyncQueueItem, error)
	Len(ctx context.Context) (int, error)
}

// RemoteHistoryClient defines the interface for the downstream persistence API
type RemoteHistoryClient interface {
	UpsertPosition(ctx context.Context, record PositionRecord) (*PositionRecord, error)
	FetchHistory(ctx context.Context, query HistoryQuery) ([]PositionRecord, error)
	BatchUpsert(ctx context.Context, userID string, records []PositionRecord) (*BatchResult, error)
	Ping(ctx context.Context) error
}

// PageSource yields search-result pages from the external scraper.
// An empty page means there are no further pages.
type PageSource interface {
	FetchPage(ctx context.Context, platform PlatformID, searchTerm string, page int) ([]Listing, error)
}

package domain

import (
	"encoding/json"
	"time"
)

// SyncItemKind names the deferred operation a queue item replays
type SyncItemKind string

const (
	SyncKindProduct      SyncItemKind = "sync_product"
	SyncKindPushRecords  SyncItemKind = "push_records"
	SyncKindPushPosition SyncItemKind = "push_position"
)

// SyncQueueItem is a failed remote operation awaiting delivery.
// It stays queued until delivered or explicitly discarded.
type SyncQueueItem struct {
	ID         string          `json:"id"`
	Kind       SyncItemKind    `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
}

// ProductPayload is the payload of a sync_product item
type ProductPayload struct {
	ProductID string `json:"productId"`
}

// RecordsPayload is the payload of a push_records item
type RecordsPayload struct {
	ProductID string           `json:"productId"`
	Records   []PositionRecord `json:"records"`
}

// PositionRecord is the wire shape of one position in the remote persistence API
type PositionRecord struct {
	ProductID  string    `json:"productId"`
	Title      string    `json:"title,omitempty"`
	Position   int       `json:"position"`
	SearchTerm string    `json:"searchTerm,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	Date       string    `json:"date,omitempty"`
	ObservedAt time.Time `json:"observedAt,omitzero"`
}

// HistoryQuery selects remote history rows
type HistoryQuery struct {
	ProductID  string
	UserID     string
	SearchTerm string
	Limit      int
}

// HistoryResponse is the remote read-history response
type HistoryResponse struct {
	History []PositionRecord `json:"history"`
}

// BatchRequest is the remote batch-create body
type BatchRequest struct {
	UserID  string           `json:"userId"`
	Records []PositionRecord `json:"records"`
}

// BatchResult reports the outcome of a remote batch create
type BatchResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// ProductSyncStatus is the outcome of reconciling one product
type ProductSyncStatus string

const (
	SyncCreated   ProductSyncStatus = "created"
	SyncMerged    ProductSyncStatus = "merged"
	SyncUnchanged ProductSyncStatus = "unchanged"
	SyncQueued    ProductSyncStatus = "queued"
	SyncFailed    ProductSyncStatus = "failed"
)

// ProductSyncResult describes what reconciling one product did
type ProductSyncResult struct {
	ProductID    string            `json:"productId"`
	Status       ProductSyncStatus `json:"status"`
	Pushed       int               `json:"pushed"`
	Rejected     int               `json:"rejected,omitempty"`
	LocalChanged bool              `json:"localChanged"`
	Error        string            `json:"error,omitempty"`
}

// SyncReport summarizes a full reconciliation pass
type SyncReport struct {
	Products  []ProductSyncResult `json:"products"`
	Created   int                 `json:"created"`
	Merged    int                 `json:"merged"`
	Unchanged int                 `json:"unchanged"`
	Queued    int                 `json:"queued"`
	Failed    int                 `json:"failed"`
}

// FlushReport summarizes a queue flush
type FlushReport struct {
	Delivered int  `json:"delivered"`
	Failed    int  `json:"failed"`
	Requeued  int  `json:"requeued"`
	Remaining int  `json:"remaining"`
	Stopped   bool `json:"stopped"` // the flush halted on an undeliverable item
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/shelfsignal/backend/internal/domain"
	"github.com/shelfsignal/backend/internal/infrastructure/remote"
)

// HistoryKeyPrefix namespaces product histories in the local store
const HistoryKeyPrefix = "history:"

// HistoryKey returns the local store key of a product history
func HistoryKey(productID string) string {
	return HistoryKeyPrefix + productID
}

// HistoryStoreConfig holds configuration for the position history store
type HistoryStoreConfig struct {
	UserID             string
	MaxEntries         int
	EnableDebugLogging bool
}

// HistoryStore keeps one capped, date-unique position series per product.
// Every read-modify-write on a product runs in that product's critical section.
type HistoryStore struct {
	kv                 domain.KVStore
	userID             string
	maxEntries         int
	locks              *keyedMutex
	now                func() time.Time
	enableDebugLogging bool
}

// NewHistoryStore creates a history store on top of a key-value store
func NewHistoryStore(kv domain.KVStore, config HistoryStoreConfig) (*HistoryStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("%w: nil key-value store", domain.ErrInvalidConfig)
	}
	if config.MaxEntries < 0 {
		return nil, fmt.Errorf("%w: negative retention cap %d", domain.ErrInvalidConfig, config.MaxEntries)
	}

	maxEntries := config.MaxEntries
	if maxEntries == 0 {
		maxEntries = domain.DefaultMaxEntries
	}

	return &HistoryStore{
		kv:                 kv,
		userID:             config.UserID,
		maxEntries:         maxEntries,
		locks:              newKeyedMutex(),
		now:                time.Now,
		enableDebugLogging: config.EnableDebugLogging,
	}, nil
}

// MaxEntries returns the retention cap
func (s *HistoryStore) MaxEntries() int {
	return s.maxEntries
}

// UserID returns the user the histories belong to
func (s *HistoryStore) UserID() string {
	return s.userID
}

// Upsert records entry for productID. An existing entry for the same date is
// replaced only when the position differs; repeating an observation is a no-op.
func (s *HistoryStore) Upsert(
	ctx context.Context,
	productID string,
	meta domain.ProductMeta,
	entry domain.PositionEntry,
) (*domain.ProductHistory, error) {
	if entry.ObservedAt.IsZero() {
		entry.ObservedAt = s.now()
	}
	entry.ObservedAt = remote.NormalizeObservedAt(entry.ObservedAt)
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	return s.Update(ctx, productID, func(h *domain.ProductHistory) (bool, error) {
		changed := applyEntry(h, entry)
		if meta.Title != "" && meta.Title != h.Title {
			h.Title = meta.Title
			changed = true
		}
		if meta.SearchTerm != "" && meta.SearchTerm != h.SearchTerm {
			h.SearchTerm = meta.SearchTerm
			changed = true
		}
		return changed, nil
	})
}

// Update runs fn on the current history of productID inside its critical
// section. fn receives a fresh history when none is stored and reports whether
// it changed anything; only changed histories are written back.
func (s *HistoryStore) Update(
	ctx context.Context,
	productID string,
	fn func(h *domain.ProductHistory) (bool, error),
) (*domain.ProductHistory, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, domain.ErrInvalidRequest
	}

	unlock := s.locks.Lock(s.lockKey(productID))
	defer unlock()

	current, err := s.load(ctx, productID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	h := current.Clone()
	if h == nil {
		h = &domain.ProductHistory{
			ProductID: productID,
			UserID:    s.userID,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	changed, err := fn(h)
	if err != nil {
		return nil, err
	}
	if !changed {
		if current == nil {
			return nil, domain.ErrHistoryNotFound
		}
		return current, nil
	}

	h.Entries = normalizeEntries(h.Entries, s.maxEntries)
	h.UpdatedAt = now
	if err := s.save(ctx, h); err != nil {
		return nil, err
	}

	if s.enableDebugLogging {
		log.Printf("[HISTORY] %s saved with %d entries", productID, len(h.Entries))
	}
	return h, nil
}

// Get returns the history of productID, or ErrHistoryNotFound
func (s *HistoryStore) Get(ctx context.Context, productID string) (*domain.ProductHistory, error) {
	h, err := s.load(ctx, productID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, domain.ErrHistoryNotFound
	}
	return h, nil
}

// ProductIDs lists the products with a stored history, sorted
func (s *HistoryStore) ProductIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, HistoryKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, HistoryKeyPrefix))
	}
	sort.Strings(ids)
	return ids, nil
}

// List returns every readable history. Corrupted entries are skipped.
func (s *HistoryStore) List(ctx context.Context) ([]*domain.ProductHistory, error) {
	ids, err := s.ProductIDs(ctx)
	if err != nil {
		return nil, err
	}

	histories := make([]*domain.ProductHistory, 0, len(ids))
	for _, id := range ids {
		h, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if h != nil {
			histories = append(histories, h)
		}
	}
	return histories, nil
}

// Delete removes the history of productID
func (s *HistoryStore) Delete(ctx context.Context, productID string) error {
	unlock := s.locks.Lock(s.lockKey(productID))
	defer unlock()

	if err := s.kv.Delete(ctx, HistoryKey(productID)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Clear removes every stored history and returns how many were removed
func (s *HistoryStore) Clear(ctx context.Context) (int, error) {
	ids, err := s.ProductIDs(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return i, err
		}
	}
	log.Printf("[HISTORY] cleared %d histories", len(ids))
	return len(ids), nil
}

func (s *HistoryStore) lockKey(productID string) string {
	return productID + "\x00" + s.userID
}

// load reads a history. A missing or unreadable value yields (nil, nil).
func (s *HistoryStore) load(ctx context.Context, productID string) (*domain.ProductHistory, error) {
	raw, err := s.kv.Get(ctx, HistoryKey(productID))
	if err != nil {
		if errors.Is(err, domain.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	var h domain.ProductHistory
	if err := json.Unmarshal(raw, &h); err != nil {
		log.Printf("[HISTORY] corrupted history for %s, starting fresh: %v", productID, err)
		return nil, nil
	}

	valid := h.Entries[:0]
	for _, e := range h.Entries {
		if err := e.Validate(); err != nil {
			log.Printf("[HISTORY] dropping invalid entry for %s: %v", productID, err)
			continue
		}
		valid = append(valid, e)
	}
	h.Entries = normalizeEntries(valid, s.maxEntries)
	if h.ProductID == "" {
		h.ProductID = productID
	}
	return &h, nil
}

func (s *HistoryStore) save(ctx context.Context, h *domain.ProductHistory) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode history %s: %w", h.ProductID, err)
	}
	if err := s.kv.Set(ctx, HistoryKey(h.ProductID), raw); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// applyEntry merges one observation into h and reports whether h changed
func applyEntry(h *domain.ProductHistory, entry domain.PositionEntry) bool {
	for i := range h.Entries {
		if h.Entries[i].Date != entry.Date {
			continue
		}
		if h.Entries[i].Position == entry.Position {
			return false
		}
		h.Entries[i] = entry
		return true
	}
	h.Entries = append(h.Entries, entry)
	return true
}

// normalizeEntries sorts descending by date, keeps the latest observation per
// date and truncates to maxEntries.
func normalizeEntries(entries []domain.PositionEntry, maxEntries int) []domain.PositionEntry {
	byDate := make(map[domain.Date]domain.PositionEntry, len(entries))
	for _, e := range entries {
		if prev, ok := byDate[e.Date]; ok && !e.ObservedAt.After(prev.ObservedAt) {
			continue
		}
		byDate[e.Date] = e
	}

	out := make([]domain.PositionEntry, 0, len(byDate))
	for _, e := range byDate {
		out = append(out, e)
	}
	domain.SortEntriesDesc(out)

	if len(out) > maxEntries {
		out = out[:maxEntries]
	}
	return out
}

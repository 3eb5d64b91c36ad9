package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shelfsignal/backend/internal/domain"
	"github.com/shelfsignal/backend/internal/infrastructure/remote"
)

// Sync defaults
const (
	DefaultSyncMaxAttempts = 3
	DefaultSyncBaseBackoff = 500 * time.Millisecond
	DefaultSyncMaxBackoff  = 4 * time.Second
)

// SyncConfig holds configuration for the sync coordinator
type SyncConfig struct {
	MaxAttempts        int
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	EnableDebugLogging bool
}

// MergeResult is the outcome of reconciling one local and one remote series
type MergeResult struct {
	Entries      []domain.PositionEntry // merged, sorted descending, capped
	Push         []domain.PositionEntry // merged entries the remote lacks or holds differently
	LocalChanged bool
}

// SyncCoordinator reconciles local histories with the remote canonical store
// and replays failed remote operations from a persisted queue.
type SyncCoordinator struct {
	store              *HistoryStore
	remote             domain.RemoteHistoryClient
	queue              domain.SyncQueue
	metrics            Metrics
	maxAttempts        int
	baseBackoff        time.Duration
	maxBackoff         time.Duration
	enableDebugLogging bool

	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	flushMu sync.Mutex
	online  atomic.Bool
}

// NewSyncCoordinator creates a sync coordinator
func NewSyncCoordinator(
	store *HistoryStore,
	remoteClient domain.RemoteHistoryClient,
	queue domain.SyncQueue,
	metrics Metrics,
	config SyncConfig,
) *SyncCoordinator {
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultSyncMaxAttempts
	}
	baseBackoff := config.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = DefaultSyncBaseBackoff
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff < baseBackoff {
		maxBackoff = max(DefaultSyncMaxBackoff, baseBackoff)
	}

	c := &SyncCoordinator{
		store:              store,
		remote:             remoteClient,
		queue:              queue,
		metrics:            metricsOrNoop(metrics),
		maxAttempts:        maxAttempts,
		baseBackoff:        baseBackoff,
		maxBackoff:         maxBackoff,
		enableDebugLogging: config.EnableDebugLogging,
		sleep:              sleepContext,
		now:                time.Now,
	}
	c.online.Store(true)
	return c
}

// MergeEntries reconciles local and remote entries per date. The entry with the
// strictly later ObservedAt wins; ties keep the remote value. Applying the
// result and merging again yields no further changes.
func MergeEntries(local, remoteEntries []domain.PositionEntry, maxEntries int) MergeResult {
	localByDate := indexByDate(local)
	remoteByDate := indexByDate(remoteEntries)

	winners := make([]domain.PositionEntry, 0, len(localByDate)+len(remoteByDate))
	for date, l := range localByDate {
		r, ok := remoteByDate[date]
		if ok && !l.ObservedAt.After(r.ObservedAt) {
			winners = append(winners, r)
			continue
		}
		winners = append(winners, l)
	}
	for date, r := range remoteByDate {
		if _, ok := localByDate[date]; !ok {
			winners = append(winners, r)
		}
	}

	domain.SortEntriesDesc(winners)
	if len(winners) > maxEntries {
		winners = winners[:maxEntries]
	}

	result := MergeResult{Entries: winners}
	kept := make(map[domain.Date]bool, len(winners))
	for _, e := range winners {
		kept[e.Date] = true
		if r, ok := remoteByDate[e.Date]; !ok || !r.Same(e) {
			result.Push = append(result.Push, e)
		}
		if l, ok := localByDate[e.Date]; !ok || !l.Same(e) {
			result.LocalChanged = true
		}
	}
	for date := range localByDate {
		if !kept[date] {
			result.LocalChanged = true
		}
	}
	return result
}

// indexByDate keys entries by date, keeping the later observation of duplicates
func indexByDate(entries []domain.PositionEntry) map[domain.Date]domain.PositionEntry {
	byDate := make(map[domain.Date]domain.PositionEntry, len(entries))
	for _, e := range entries {
		if prev, ok := byDate[e.Date]; ok && !e.ObservedAt.After(prev.ObservedAt) {
			continue
		}
		byDate[e.Date] = e
	}
	return byDate
}

// SyncAll reconciles every local history. A failure on one product is
// recorded in the report and never stops the others.
func (c *SyncCoordinator) SyncAll(ctx context.Context) (*domain.SyncReport, error) {
	ids, err := c.store.ProductIDs(ctx)
	if err != nil {
		return nil, err
	}

	report := &domain.SyncReport{Products: make([]domain.ProductSyncResult, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result := c.syncIsolated(ctx, id)
		report.Products = append(report.Products, result)
		switch result.Status {
		case domain.SyncCreated:
			report.Created++
		case domain.SyncMerged:
			report.Merged++
		case domain.SyncUnchanged:
			report.Unchanged++
		case domain.SyncQueued:
			report.Queued++
		default:
			report.Failed++
		}
	}

	log.Printf("[SYNC] pass done: %d products, created=%d merged=%d unchanged=%d queued=%d failed=%d",
		len(ids), report.Created, report.Merged, report.Unchanged, report.Queued, report.Failed)
	return report, nil
}

// syncIsolated runs one product merge so that neither an error nor a panic escapes
func (c *SyncCoordinator) syncIsolated(ctx context.Context, productID string) (result domain.ProductSyncResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SYNC] panic while syncing %s: %v", productID, r)
			result = domain.ProductSyncResult{
				ProductID: productID,
				Status:    domain.SyncFailed,
				Error:     fmt.Sprint(r),
			}
		}
		c.metrics.ProductSynced(result.Status)
	}()

	result, err := c.syncProduct(ctx, productID, true)
	if err != nil {
		log.Printf("[SYNC] %s: %v", productID, err)
	}
	return result
}

// SyncProduct reconciles one product, queueing it for later on retryable failures
func (c *SyncCoordinator) SyncProduct(ctx context.Context, productID string) (domain.ProductSyncResult, error) {
	result, err := c.syncProduct(ctx, productID, true)
	c.metrics.ProductSynced(result.Status)
	return result, err
}

func (c *SyncCoordinator) syncProduct(ctx context.Context, productID string, enqueue bool) (domain.ProductSyncResult, error) {
	result := domain.ProductSyncResult{ProductID: productID, Status: domain.SyncFailed}

	local, err := c.store.Get(ctx, productID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	records, err := c.remote.FetchHistory(ctx, domain.HistoryQuery{
		ProductID: productID,
		UserID:    c.store.UserID(),
		Limit:     c.store.MaxEntries(),
	})
	if err != nil {
		return c.remoteFailure(ctx, result, err, enqueue, domain.SyncKindProduct, domain.ProductPayload{ProductID: productID})
	}

	remoteEntries, err := remote.RecordsToEntries(productID, records)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	if len(remoteEntries) == 0 {
		return c.createRemote(ctx, result, local, enqueue)
	}

	var merge MergeResult
	updated, err := c.store.Update(ctx, productID, func(h *domain.ProductHistory) (bool, error) {
		merge = MergeEntries(h.Entries, remoteEntries, c.store.MaxEntries())
		if !merge.LocalChanged {
			return false, nil
		}
		h.Entries = merge.Entries
		return true, nil
	})
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	if merge.LocalChanged {
		result.LocalChanged = true
		c.metrics.SyncWrite(WriteTargetLocal)
	}

	if len(merge.Push) > 0 {
		pushRecords := remote.EntriesToRecords(updated, c.store.UserID(), merge.Push)
		pushed, err := c.pushBatch(ctx, productID, pushRecords)
		result.Pushed = pushed
		if err != nil {
			result.Rejected = len(pushRecords) - pushed
			return c.remoteFailure(ctx, result, err, enqueue, domain.SyncKindPushRecords,
				domain.RecordsPayload{ProductID: productID, Records: pushRecords})
		}
	}

	result.Status = domain.SyncUnchanged
	if result.LocalChanged || result.Pushed > 0 {
		result.Status = domain.SyncMerged
	}
	if c.enableDebugLogging {
		log.Printf("[SYNC] %s %s: pushed=%d localChanged=%v", productID, result.Status, result.Pushed, result.LocalChanged)
	}
	return result, nil
}

// createRemote pushes a history the remote has never seen
func (c *SyncCoordinator) createRemote(
	ctx context.Context,
	result domain.ProductSyncResult,
	local *domain.ProductHistory,
	enqueue bool,
) (domain.ProductSyncResult, error) {
	if len(local.Entries) == 0 {
		result.Status = domain.SyncUnchanged
		return result, nil
	}

	records := remote.EntriesToRecords(local, c.store.UserID(), local.Entries)
	pushed, err := c.pushBatch(ctx, local.ProductID, records)
	result.Pushed = pushed
	if err != nil {
		result.Rejected = len(records) - pushed
		return c.remoteFailure(ctx, result, err, enqueue, domain.SyncKindPushRecords,
			domain.RecordsPayload{ProductID: local.ProductID, Records: records})
	}

	result.Status = domain.SyncCreated
	return result, nil
}

// pushBatch sends records in one batch and returns how many the remote kept.
// Records the remote answers as failed make the call a permanent rejection.
func (c *SyncCoordinator) pushBatch(ctx context.Context, productID string, records []domain.PositionRecord) (int, error) {
	res, err := c.remote.BatchUpsert(ctx, c.store.UserID(), records)
	if err != nil {
		return 0, err
	}
	if res == nil || res.Failed <= 0 {
		c.metrics.SyncWrite(WriteTargetRemote)
		return len(records), nil
	}

	failed := min(res.Failed, len(records))
	accepted := len(records) - failed
	if accepted > 0 {
		c.metrics.SyncWrite(WriteTargetRemote)
	}
	log.Printf("[SYNC] remote rejected %d of %d records for %s", failed, len(records), productID)
	return accepted, fmt.Errorf("%w: %d of %d records for %s", domain.ErrRemoteRejected, failed, len(records), productID)
}

// remoteFailure queues retryable failures and marks permanent ones as failed
func (c *SyncCoordinator) remoteFailure(
	ctx context.Context,
	result domain.ProductSyncResult,
	err error,
	enqueue bool,
	kind domain.SyncItemKind,
	payload any,
) (domain.ProductSyncResult, error) {
	result.Error = err.Error()
	if !domain.IsRetryable(err) {
		result.Status = domain.SyncFailed
		log.Printf("[SYNC] %s rejected by remote: %v", result.ProductID, err)
		return result, err
	}
	if !enqueue {
		return result, err
	}

	if qerr := c.Enqueue(ctx, kind, payload, err); qerr != nil {
		result.Status = domain.SyncFailed
		return result, fmt.Errorf("queue %s after %v: %w", kind, err, qerr)
	}
	result.Status = domain.SyncQueued
	return result, nil
}

// PushPosition sends one fresh observation to the remote. A retryable failure
// is queued and reported as queued=true with a nil error.
func (c *SyncCoordinator) PushPosition(ctx context.Context, record domain.PositionRecord) (bool, error) {
	if _, err := c.remote.UpsertPosition(ctx, record); err != nil {
		if !domain.IsRetryable(err) {
			log.Printf("[SYNC] position of %s rejected by remote: %v", record.ProductID, err)
			return false, err
		}
		if qerr := c.Enqueue(ctx, domain.SyncKindPushPosition, record, err); qerr != nil {
			return false, qerr
		}
		return true, nil
	}
	c.metrics.SyncWrite(WriteTargetRemote)
	return false, nil
}

// Enqueue stores a failed remote operation for later delivery
func (c *SyncCoordinator) Enqueue(ctx context.Context, kind domain.SyncItemKind, payload any, cause error) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}

	item := domain.SyncQueueItem{
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: c.now(),
	}
	if cause != nil {
		item.LastError = cause.Error()
	}

	stored, err := c.queue.Enqueue(ctx, item)
	if err != nil {
		return err
	}
	c.refreshQueueDepth(ctx)
	log.Printf("[QUEUE] queued %s %s: %s", stored.Kind, stored.ID, item.LastError)
	return nil
}

// QueueItems lists pending queue items in delivery order
func (c *SyncCoordinator) QueueItems(ctx context.Context) ([]domain.SyncQueueItem, error) {
	return c.queue.List(ctx)
}

// Discard drops a queue item without delivering it
func (c *SyncCoordinator) Discard(ctx context.Context, id string) error {
	if err := c.queue.Remove(ctx, id); err != nil {
		return err
	}
	c.refreshQueueDepth(ctx)
	log.Printf("[QUEUE] discarded %s", id)
	return nil
}

// FlushQueue delivers queued items in FIFO order, one at a time. Each item gets
// MaxAttempts tries with capped exponential backoff. A permanently rejected item
// is dropped as failed; an item still failing with a retryable error stays at
// the head of the queue and ends the flush.
func (c *SyncCoordinator) FlushQueue(ctx context.Context) (*domain.FlushReport, error) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	report := &domain.FlushReport{}
	defer c.refreshQueueDepth(context.WithoutCancel(ctx))

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		item, err := c.queue.Peek(ctx)
		if errors.Is(err, domain.ErrQueueEmpty) {
			break
		}
		if err != nil {
			return report, err
		}

		deliverErr := c.deliverWithRetry(ctx, &item)
		if deliverErr == nil {
			if err := c.queue.Remove(ctx, item.ID); err != nil {
				return report, err
			}
			report.Delivered++
			c.metrics.QueueFlushed(FlushDelivered)
			continue
		}

		if ctx.Err() != nil || domain.IsRetryable(deliverErr) {
			item.LastError = deliverErr.Error()
			if err := c.queue.Update(ctx, item); err != nil {
				return report, err
			}
			report.Requeued++
			report.Stopped = true
			c.metrics.QueueFlushed(FlushRequeued)
			log.Printf("[QUEUE] %s %s still undeliverable after %d attempts: %v", item.Kind, item.ID, item.Attempts, deliverErr)
			break
		}

		log.Printf("[QUEUE] %s %s permanently failed, discarding: %v", item.Kind, item.ID, deliverErr)
		if err := c.queue.Remove(ctx, item.ID); err != nil {
			return report, err
		}
		report.Failed++
		c.metrics.QueueFlushed(FlushFailed)
	}

	remaining, err := c.queue.Len(ctx)
	if err != nil {
		return report, err
	}
	report.Remaining = remaining
	return report, ctx.Err()
}

// deliverWithRetry tries item up to maxAttempts times, bumping its attempt counter
func (c *SyncCoordinator) deliverWithRetry(ctx context.Context, item *domain.SyncQueueItem) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		item.Attempts++
		lastErr = c.deliver(ctx, *item)
		if lastErr == nil || !domain.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt < c.maxAttempts {
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return lastErr
			}
		}
	}
	return lastErr
}

// deliver replays one queue item against the remote
func (c *SyncCoordinator) deliver(ctx context.Context, item domain.SyncQueueItem) error {
	switch item.Kind {
	case domain.SyncKindProduct:
		var payload domain.ProductPayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return fmt.Errorf("%w: %s payload: %v", domain.ErrInvalidRequest, item.Kind, err)
		}
		_, err := c.syncProduct(ctx, payload.ProductID, false)
		if errors.Is(err, domain.ErrHistoryNotFound) {
			return nil
		}
		return err

	case domain.SyncKindPushRecords:
		var payload domain.RecordsPayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return fmt.Errorf("%w: %s payload: %v", domain.ErrInvalidRequest, item.Kind, err)
		}
		_, err := c.pushBatch(ctx, payload.ProductID, payload.Records)
		return err

	case domain.SyncKindPushPosition:
		var record domain.PositionRecord
		if err := json.Unmarshal(item.Payload, &record); err != nil {
			return fmt.Errorf("%w: %s payload: %v", domain.ErrInvalidRequest, item.Kind, err)
		}
		if _, err := c.remote.UpsertPosition(ctx, record); err != nil {
			return err
		}
		c.metrics.SyncWrite(WriteTargetRemote)
		return nil
	}
	return fmt.Errorf("%w: unknown queue item kind %q", domain.ErrInvalidRequest, item.Kind)
}

// backoff returns the wait before the attempt following attempt, capped at maxBackoff
func (c *SyncCoordinator) backoff(attempt int) time.Duration {
	return exponentialBackoff(c.baseBackoff, c.maxBackoff, attempt)
}

func exponentialBackoff(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}

// Run pings the remote every interval; once it answers, the queue is
// flushed and a full reconciliation pass runs. Run returns when ctx ends.
func (c *SyncCoordinator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[SYNC] background sync every %s", interval)
	for {
		c.RunOnce(ctx)
		select {
		case <-ctx.Done():
			log.Printf("[SYNC] background sync stopped: %v", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one connectivity-gated flush and reconciliation
func (c *SyncCoordinator) RunOnce(ctx context.Context) {
	if err := c.remote.Ping(ctx); err != nil {
		if c.online.Swap(false) {
			log.Printf("[SYNC] remote unreachable, working offline: %v", err)
		}
		return
	}
	if !c.online.Swap(true) {
		log.Printf("[SYNC] connectivity restored")
	}

	if pending, err := c.queue.Len(ctx); err == nil && pending > 0 {
		report, err := c.FlushQueue(ctx)
		if err != nil {
			log.Printf("[SYNC] queue flush: %v", err)
			return
		}
		log.Printf("[QUEUE] flushed: delivered=%d failed=%d remaining=%d", report.Delivered, report.Failed, report.Remaining)
		if report.Stopped {
			return
		}
	}

	if _, err := c.SyncAll(ctx); err != nil {
		log.Printf("[SYNC] reconciliation pass: %v", err)
	}
}

// Online reports whether the last connectivity check succeeded
func (c *SyncCoordinator) Online() bool {
	return c.online.Load()
}

func (c *SyncCoordinator) refreshQueueDepth(ctx context.Context) {
	if n, err := c.queue.Len(ctx); err == nil {
		c.metrics.QueueDepth(n)
	}
}

// sleepContext waits for d or until ctx ends
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

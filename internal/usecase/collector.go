package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shelfsignal/backend/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Collector defaults
const (
	DefaultCollectBatchSize  = 5
	DefaultCollectBatchDelay = 1500 * time.Millisecond
	DefaultCollectMaxPages   = 20
)

// CollectorConfig holds configuration for multi-page collection
type CollectorConfig struct {
	BatchSize  int
	BatchDelay time.Duration
	MaxPages   int
}

// Collector walks the result pages of a search term in bounded batches,
// pausing between batches to respect upstream and downstream rate limits.
type Collector struct {
	source     domain.PageSource
	tracker    *TrackingService
	batchSize  int
	batchDelay time.Duration
	maxPages   int
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// NewCollector creates a collector
func NewCollector(source domain.PageSource, tracker *TrackingService, config CollectorConfig) (*Collector, error) {
	if config.BatchSize < 0 || config.MaxPages < 0 || config.BatchDelay < 0 {
		return nil, fmt.Errorf("%w: collector batch=%d pages=%d delay=%s",
			domain.ErrInvalidConfig, config.BatchSize, config.MaxPages, config.BatchDelay)
	}

	batchSize := config.BatchSize
	if batchSize == 0 {
		batchSize = DefaultCollectBatchSize
	}
	maxPages := config.MaxPages
	if maxPages == 0 {
		maxPages = DefaultCollectMaxPages
	}
	batchDelay := config.BatchDelay
	if batchDelay == 0 {
		batchDelay = DefaultCollectBatchDelay
	}

	return &Collector{
		source:     source,
		tracker:    tracker,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		maxPages:   maxPages,
		sleep:      sleepContext,
		now:        time.Now,
	}, nil
}

// Collect fetches and records pages until an empty page, the page limit or
// cancellation of ctx. Pages inside a batch are fetched concurrently but
// recorded in page order, so positions run continuously across pages.
func (c *Collector) Collect(ctx context.Context, req domain.CollectRequest) (*domain.CollectReport, error) {
	searchTerm := strings.TrimSpace(req.SearchTerm)
	if searchTerm == "" {
		return nil, domain.ErrInvalidRequest
	}
	if _, err := c.tracker.Platform(req.Platform); err != nil {
		return nil, err
	}

	maxPages := c.maxPages
	if req.MaxPages > 0 && req.MaxPages < maxPages {
		maxPages = req.MaxPages
	}

	report := &domain.CollectReport{SearchTerm: searchTerm}
	observedAt := c.now()
	position := 0

	for first := 1; first <= maxPages; first += c.batchSize {
		if first > 1 {
			if err := c.sleep(ctx, c.batchDelay); err != nil {
				report.Cancelled = true
				return report, err
			}
		}

		last := min(first+c.batchSize-1, maxPages)
		results := c.fetchBatch(ctx, req.Platform, searchTerm, first, last)

		for _, res := range results {
			if err := ctx.Err(); err != nil {
				report.Cancelled = true
				return report, err
			}
			if res.err != nil {
				return report, res.err
			}
			listings := res.listings
			if len(listings) == 0 {
				report.Exhausted = true
				log.Printf("[COLLECT] %q exhausted after %d pages", searchTerm, report.Pages)
				return report, nil
			}

			for i := range listings {
				position++
				if listings[i].Position <= 0 {
					listings[i].Position = position
				}
			}

			obs, err := c.tracker.Observe(ctx, &domain.ObservationBatch{
				Platform:   req.Platform,
				SearchTerm: searchTerm,
				ObservedAt: observedAt,
				Listings:   listings,
			})
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					report.Cancelled = true
				}
				return report, err
			}

			report.Pages++
			report.Listings += len(listings)
			report.Recorded += obs.Recorded
			report.Rejected += obs.Rejected
			report.Queued += obs.Queued
		}
	}

	log.Printf("[COLLECT] %q stopped at page limit %d", searchTerm, maxPages)
	return report, nil
}

type pageResult struct {
	listings []domain.Listing
	err      error
}

// fetchBatch fetches pages first..last concurrently and returns one result per
// page in page order. An empty page cancels the requests for the pages after it;
// their results are never read.
func (c *Collector) fetchBatch(
	ctx context.Context,
	platform domain.PlatformID,
	searchTerm string,
	first, last int,
) []pageResult {
	results := make([]pageResult, last-first+1)
	pageCtx := make([]context.Context, len(results))
	cancels := make([]context.CancelFunc, len(results))
	for i := range results {
		pageCtx[i], cancels[i] = context.WithCancel(ctx)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	var g errgroup.Group
	g.SetLimit(c.batchSize)
	for i := range results {
		page := first + i
		g.Go(func() error {
			if err := pageCtx[i].Err(); err != nil {
				results[i].err = err
				return nil
			}
			listings, err := c.source.FetchPage(pageCtx[i], platform, searchTerm, page)
			if err != nil {
				results[i].err = fmt.Errorf("page %d: %w", page, err)
				return nil
			}
			results[i].listings = listings
			if len(listings) == 0 {
				for _, cancel := range cancels[i+1:] {
					cancel()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

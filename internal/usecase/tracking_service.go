package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shelfsignal/backend/internal/domain"
	"github.com/shelfsignal/backend/internal/infrastructure/remote"
)

// TrackingServiceConfig holds configuration for the tracking service
type TrackingServiceConfig struct {
	PushOnObserve      bool
	EnableDebugLogging bool
}

// TrackingService turns scraped listings into sales signals, scores,
// position history and trends.
// Flow: normalize id -> extract sales -> score -> upsert history -> classify -> push
type TrackingService struct {
	platforms          *PlatformRegistry
	ranking            *RankingAnalyzer
	store              *HistoryStore
	trends             *TrendCalculator
	sync               *SyncCoordinator
	metrics            Metrics
	pushOnObserve      bool
	enableDebugLogging bool
	now                func() time.Time
}

// NewTrackingService creates a tracking service. syncCoordinator may be nil,
// in which case observations stay local until the next reconciliation pass.
func NewTrackingService(
	platforms *PlatformRegistry,
	store *HistoryStore,
	syncCoordinator *SyncCoordinator,
	metrics Metrics,
	config TrackingServiceConfig,
) *TrackingService {
	return &TrackingService{
		platforms:          platforms,
		ranking:            NewRankingAnalyzer(),
		store:              store,
		trends:             NewTrendCalculator(),
		sync:               syncCoordinator,
		metrics:            metricsOrNoop(metrics),
		pushOnObserve:      config.PushOnObserve,
		enableDebugLogging: config.EnableDebugLogging,
		now:                time.Now,
	}
}

// Platform resolves a platform id
func (s *TrackingService) Platform(id domain.PlatformID) (Platform, error) {
	return s.platforms.Get(id)
}

// ExtractSignal parses text with the extractor of the given platform
func (s *TrackingService) ExtractSignal(platformID domain.PlatformID, text string) (domain.SignalResult, error) {
	platform, err := s.platforms.Get(platformID)
	if err != nil {
		return domain.SignalResult{}, err
	}
	result := platform.Signals().Extract(text)
	s.metrics.SignalExtracted(platform.ID(), result.Outcome)
	return result, nil
}

// Score returns the ranking score and its breakdown
func (s *TrackingService) Score(snapshot domain.ProductSnapshot) ScoreBreakdown {
	return s.ranking.Breakdown(snapshot)
}

// Observe records a batch of listings seen for one search term. Listings that
// cannot be recorded are reported individually and never abort the batch.
func (s *TrackingService) Observe(ctx context.Context, batch *domain.ObservationBatch) (*domain.ObservationReport, error) {
	if batch == nil || len(batch.Listings) == 0 {
		return nil, domain.ErrInvalidRequest
	}

	platform, err := s.platforms.Get(batch.Platform)
	if err != nil {
		return nil, err
	}

	observedAt := batch.ObservedAt
	if observedAt.IsZero() {
		observedAt = s.now()
	}

	report := &domain.ObservationReport{
		SearchTerm: strings.TrimSpace(batch.SearchTerm),
		Date:       domain.DateOf(observedAt),
		Products:   make([]domain.ObservedProduct, 0, len(batch.Listings)),
	}

	for i, listing := range batch.Listings {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		product, queued := s.observeListing(ctx, platform, report.SearchTerm, listing, i+1, observedAt)
		report.Products = append(report.Products, product)
		if product.Error != "" {
			report.Rejected++
			continue
		}
		report.Recorded++
		if queued {
			report.Queued++
		}
	}

	if s.enableDebugLogging {
		log.Printf("[TRACK] %s %q: recorded=%d rejected=%d queued=%d",
			platform.ID(), report.SearchTerm, report.Recorded, report.Rejected, report.Queued)
	}
	return report, nil
}

func (s *TrackingService) observeListing(
	ctx context.Context,
	platform Platform,
	searchTerm string,
	listing domain.Listing,
	fallbackPosition int,
	observedAt time.Time,
) (domain.ObservedProduct, bool) {
	product := domain.ObservedProduct{ProductID: listing.ProductID, Title: listing.Title}

	id, err := platform.NormalizeProductID(listing.ProductID)
	if err != nil {
		product.Error = err.Error()
		return product, false
	}
	product.ProductID = id

	product.Position = listing.Position
	if product.Position <= 0 {
		product.Position = fallbackPosition
	}

	signal := platform.Signals().Extract(listing.SalesText)
	s.metrics.SignalExtracted(platform.ID(), signal.Outcome)
	product.SalesCount = signal.Count
	product.Signal = signal.Outcome

	product.Score = s.ranking.Score(domain.ProductSnapshot{
		ProductID:   id,
		Platform:    platform.ID(),
		Title:       listing.Title,
		Rating:      listing.Rating,
		ReviewCount: listing.ReviewCount,
		SalesCount:  signal.Count,
		Sponsored:   listing.Sponsored,
		Position:    product.Position,
	})

	entry := domain.PositionEntry{
		Date:       domain.DateOf(observedAt),
		Position:   product.Position,
		ObservedAt: remote.NormalizeObservedAt(observedAt),
	}
	history, err := s.store.Upsert(ctx, id, domain.ProductMeta{Title: listing.Title, SearchTerm: searchTerm}, entry)
	if err != nil {
		product.Error = err.Error()
		return product, false
	}
	s.metrics.HistoryUpserted()

	trend := s.trends.Classify(history)
	product.Trend = &trend

	if !s.pushOnObserve || s.sync == nil || !holdsEntry(history, entry) {
		return product, false
	}
	queued, err := s.sync.PushPosition(ctx, remote.EntryToRecord(history, s.store.UserID(), entry))
	if err != nil {
		log.Printf("[TRACK] live push of %s failed: %v", id, err)
	}
	return product, queued
}

// holdsEntry reports whether h stores exactly entry, i.e. the upsert changed something
func holdsEntry(h *domain.ProductHistory, entry domain.PositionEntry) bool {
	for _, e := range h.Entries {
		if e.Date == entry.Date {
			return e.Same(entry)
		}
	}
	return false
}

// History returns the stored history of a product
func (s *TrackingService) History(ctx context.Context, productID string) (*domain.ProductHistory, error) {
	return s.store.Get(ctx, productID)
}

// Trend classifies the stored history of a product
func (s *TrackingService) Trend(ctx context.Context, productID string) (domain.TrendResult, error) {
	h, err := s.store.Get(ctx, productID)
	if err != nil {
		return domain.TrendResult{}, err
	}
	return s.trends.Classify(h), nil
}

// Trends classifies every stored history
func (s *TrackingService) Trends(ctx context.Context) ([]domain.TrendResult, error) {
	histories, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	trends := make([]domain.TrendResult, 0, len(histories))
	for _, h := range histories {
		trends = append(trends, s.trends.Classify(h))
	}
	return trends, nil
}

// ClearData removes every local history. The sync queue is left untouched.
func (s *TrackingService) ClearData(ctx context.Context) (int, error) {
	n, err := s.store.Clear(ctx)
	if err != nil {
		return n, fmt.Errorf("clear data: %w", err)
	}
	return n, nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shelfsignal/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPageSource is a mock implementation of domain.PageSource.
// Pages without listings are reported as empty. Blocked pages wait for their
// context to end.
type MockPageSource struct {
	mu      sync.Mutex
	pages   map[int][]domain.Listing
	errs    map[int]error
	blocked map[int]bool
	fetched []int
}

func NewMockPageSource(pagesWithListings, perPage int) *MockPageSource {
	m := &MockPageSource{
		pages:   make(map[int][]domain.Listing),
		errs:    make(map[int]error),
		blocked: make(map[int]bool),
	}
	for page := 1; page <= pagesWithListings; page++ {
		for i := 0; i < perPage; i++ {
			m.pages[page] = append(m.pages[page], domain.Listing{
				ProductID: fmt.Sprintf("MLB%07d", page*100+i),
				SalesText: "+100 vendidos",
			})
		}
	}
	return m
}

func (m *MockPageSource) FetchPage(ctx context.Context, platform domain.PlatformID, searchTerm string, page int) ([]domain.Listing, error) {
	m.mu.Lock()
	m.fetched = append(m.fetched, page)
	err := m.errs[page]
	blocked := m.blocked[page]
	listings := append([]domain.Listing(nil), m.pages[page]...)
	m.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return listings, nil
}

func (m *MockPageSource) fetchedPages() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pages := append([]int(nil), m.fetched...)
	sort.Ints(pages)
	return pages
}

type collectorFixture struct {
	*trackingFixture
	source    *MockPageSource
	collector *Collector
	sleeps    []time.Duration
}

func newCollectorFixture(t *testing.T, source *MockPageSource, config CollectorConfig) *collectorFixture {
	t.Helper()
	f := &collectorFixture{trackingFixture: newTrackingFixture(t, false, TrackingServiceConfig{}), source: source}

	c, err := NewCollector(source, f.tracking, config)
	require.NoError(t, err)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	c.now = func() time.Time { return testNow }
	f.collector = c
	return f
}

func collectRequest() domain.CollectRequest {
	return domain.CollectRequest{Platform: domain.PlatformMercadoLivre, SearchTerm: "fone bluetooth"}
}

func TestNewCollector(t *testing.T) {
	c, err := NewCollector(nil, nil, CollectorConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCollectBatchSize, c.batchSize)
	assert.Equal(t, DefaultCollectBatchDelay, c.batchDelay)
	assert.Equal(t, DefaultCollectMaxPages, c.maxPages)

	_, err = NewCollector(nil, nil, CollectorConfig{BatchSize: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = NewCollector(nil, nil, CollectorConfig{BatchDelay: -time.Second})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCollector_StopsAtEmptyPage(t *testing.T) {
	ctx := context.Background()
	f := newCollectorFixture(t, NewMockPageSource(2, 2), CollectorConfig{BatchSize: 2, BatchDelay: time.Second, MaxPages: 10})

	report, err := f.collector.Collect(ctx, collectRequest())
	require.NoError(t, err)

	assert.True(t, report.Exhausted)
	assert.False(t, report.Cancelled)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, 4, report.Listings)
	assert.Equal(t, 4, report.Recorded)
	assert.Equal(t, []time.Duration{time.Second}, f.sleeps)
	fetched := f.source.fetchedPages()
	require.GreaterOrEqual(t, len(fetched), 3)
	assert.Equal(t, []int{1, 2, 3}, fetched[:3])
	assert.LessOrEqual(t, len(fetched), 4)
}

func TestCollector_IgnoresPagesAfterTheEnd(t *testing.T) {
	ctx := context.Background()

	t.Run("error after the empty page", func(t *testing.T) {
		source := NewMockPageSource(2, 3)
		source.errs[4] = errors.New("status 500")
		f := newCollectorFixture(t, source, CollectorConfig{BatchSize: 5, MaxPages: 10})

		report, err := f.collector.Collect(ctx, collectRequest())
		require.NoError(t, err)

		assert.True(t, report.Exhausted)
		assert.Equal(t, 2, report.Pages)
		assert.Equal(t, 6, report.Listings)
		assert.Equal(t, 6, report.Recorded)
	})

	t.Run("requests after the empty page are cancelled", func(t *testing.T) {
		source := NewMockPageSource(1, 1)
		source.blocked[3] = true
		source.blocked[4] = true
		f := newCollectorFixture(t, source, CollectorConfig{BatchSize: 4, MaxPages: 4})

		report, err := f.collector.Collect(ctx, collectRequest())
		require.NoError(t, err)

		assert.True(t, report.Exhausted)
		assert.Equal(t, 1, report.Pages)
	})

	t.Run("error before the empty page fails", func(t *testing.T) {
		source := NewMockPageSource(3, 1)
		source.errs[2] = errors.New("status 500")
		f := newCollectorFixture(t, source, CollectorConfig{BatchSize: 5, MaxPages: 10})

		report, err := f.collector.Collect(ctx, collectRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "page 2")
		assert.False(t, report.Exhausted)
		assert.Equal(t, 1, report.Pages)
	})
}

func TestCollector_PositionsRunAcrossPages(t *testing.T) {
	ctx := context.Background()
	f := newCollectorFixture(t, NewMockPageSource(2, 2), CollectorConfig{BatchSize: 1, MaxPages: 10})

	_, err := f.collector.Collect(ctx, collectRequest())
	require.NoError(t, err)

	want := map[string]int{"MLB0000100": 1, "MLB0000101": 2, "MLB0000200": 3, "MLB0000201": 4}
	for id, position := range want {
		h, err := f.tracking.History(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, position, h.Entries[0].Position, id)
		assert.Equal(t, "fone bluetooth", h.SearchTerm)
	}
}

func TestCollector_KeepsScrapedPositions(t *testing.T) {
	ctx := context.Background()
	source := NewMockPageSource(1, 2)
	source.pages[1][1].Position = 9
	f := newCollectorFixture(t, source, CollectorConfig{MaxPages: 1})

	_, err := f.collector.Collect(ctx, collectRequest())
	require.NoError(t, err)

	h, err := f.tracking.History(ctx, "MLB0000101")
	require.NoError(t, err)
	assert.Equal(t, 9, h.Entries[0].Position)
}

func TestCollector_PageLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("configured limit", func(t *testing.T) {
		f := newCollectorFixture(t, NewMockPageSource(10, 1), CollectorConfig{BatchSize: 2, MaxPages: 3})

		report, err := f.collector.Collect(ctx, collectRequest())
		require.NoError(t, err)

		assert.False(t, report.Exhausted)
		assert.Equal(t, 3, report.Pages)
		assert.Equal(t, []int{1, 2, 3}, f.source.fetchedPages())
	})

	t.Run("request lowers the limit", func(t *testing.T) {
		f := newCollectorFixture(t, NewMockPageSource(10, 1), CollectorConfig{BatchSize: 5, MaxPages: 10})
		req := collectRequest()
		req.MaxPages = 2

		report, err := f.collector.Collect(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Pages)
	})

	t.Run("request cannot raise the limit", func(t *testing.T) {
		f := newCollectorFixture(t, NewMockPageSource(10, 1), CollectorConfig{BatchSize: 5, MaxPages: 2})
		req := collectRequest()
		req.MaxPages = 8

		report, err := f.collector.Collect(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Pages)
	})
}

func TestCollector_FetchError(t *testing.T) {
	ctx := context.Background()
	source := NewMockPageSource(4, 1)
	source.errs[3] = errors.New("scraper crashed")
	f := newCollectorFixture(t, source, CollectorConfig{BatchSize: 2, MaxPages: 4})

	report, err := f.collector.Collect(ctx, collectRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 3")
	assert.Equal(t, 2, report.Pages)
	assert.False(t, report.Cancelled)
}

func TestCollector_Cancellation(t *testing.T) {
	ctx := context.Background()

	t.Run("before the first page is recorded", func(t *testing.T) {
		f := newCollectorFixture(t, NewMockPageSource(3, 1), CollectorConfig{BatchSize: 2})
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		report, err := f.collector.Collect(cancelled, collectRequest())
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, report.Cancelled)
		assert.Equal(t, 0, report.Pages)
	})

	t.Run("during the pause between batches", func(t *testing.T) {
		f := newCollectorFixture(t, NewMockPageSource(5, 1), CollectorConfig{BatchSize: 2})
		f.collector.sleep = func(context.Context, time.Duration) error { return context.Canceled }

		report, err := f.collector.Collect(ctx, collectRequest())
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, report.Cancelled)
		assert.Equal(t, 2, report.Pages)
	})
}

func TestCollector_Validation(t *testing.T) {
	ctx := context.Background()
	f := newCollectorFixture(t, NewMockPageSource(1, 1), CollectorConfig{})

	_, err := f.collector.Collect(ctx, domain.CollectRequest{Platform: domain.PlatformMercadoLivre, SearchTerm: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.collector.Collect(ctx, domain.CollectRequest{Platform: "shopee", SearchTerm: "fone"})
	assert.ErrorIs(t, err, domain.ErrUnknownPlatform)

	assert.Empty(t, f.source.fetchedPages())
}

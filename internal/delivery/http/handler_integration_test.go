package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shelfsignal/backend/config"
	"github.com/shelfsignal/backend/internal/domain"
	"github.com/shelfsignal/backend/internal/infrastructure/cache"
	"github.com/shelfsignal/backend/internal/infrastructure/metrics"
	"github.com/shelfsignal/backend/internal/infrastructure/queue"
	"github.com/shelfsignal/backend/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain sets up test environment before running tests
func TestMain(m *testing.M) {
	// Set Gin to test mode once for all tests
	gin.SetMode(gin.TestMode)

	os.Exit(m.Run())
}

// --- Mock implementations ---

// fakeRemote is an in-memory stand-in for the remote persistence API
type fakeRemote struct {
	mu      sync.Mutex
	down    bool
	upserts []domain.PositionRecord
	batches [][]domain.PositionRecord
	history map[string][]domain.PositionRecord
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{history: make(map[string][]domain.PositionRecord)}
}

func (f *fakeRemote) unavailable(op string) error {
	return &domain.RemoteError{Op: op, StatusCode: http.StatusServiceUnavailable, Retryable: true, Err: context.DeadlineExceeded}
}

func (f *fakeRemote) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeRemote) UpsertPosition(ctx context.Context, record domain.PositionRecord) (*domain.PositionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unavailable("upsert position")
	}
	f.upserts = append(f.upserts, record)
	return &record, nil
}

func (f *fakeRemote) FetchHistory(ctx context.Context, query domain.HistoryQuery) ([]domain.PositionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unavailable("fetch history")
	}
	return append([]domain.PositionRecord(nil), f.history[query.ProductID]...), nil
}

func (f *fakeRemote) BatchUpsert(ctx context.Context, userID string, records []domain.PositionRecord) (*domain.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unavailable("batch upsert")
	}
	f.batches = append(f.batches, records)
	for _, r := range records {
		f.history[r.ProductID] = append(f.history[r.ProductID], r)
	}
	return &domain.BatchResult{Created: len(records)}, nil
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return f.unavailable("ping")
	}
	return nil
}

// fakePages serves fixed pages; pages past the slice are empty
type fakePages struct {
	pages [][]domain.Listing
}

func (f *fakePages) FetchPage(ctx context.Context, platform domain.PlatformID, searchTerm string, page int) ([]domain.Listing, error) {
	if page > len(f.pages) {
		return []domain.Listing{}, nil
	}
	return f.pages[page-1], nil
}

type testServer struct {
	router  *gin.Engine
	remote  *fakeRemote
	metrics *metrics.Prometheus
}

// setupTestServer wires the real services on an in-memory store
func setupTestServer(t *testing.T, withSync bool) *testServer {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:           "8080",
			Environment:    "test",
			AllowedOrigins: []string{"chrome-extension://*", "http://localhost:3000"},
		},
	}

	kv := cache.NewMemoryStore()
	store, err := usecase.NewHistoryStore(kv, usecase.HistoryStoreConfig{UserID: "seller-1"})
	require.NoError(t, err)

	platforms, err := usecase.NewDefaultPlatformRegistry(usecase.ExtractorConfig{})
	require.NoError(t, err)

	m := metrics.New()
	remote := newFakeRemote()

	var coordinator *usecase.SyncCoordinator
	if withSync {
		coordinator = usecase.NewSyncCoordinator(store, remote, queue.NewKVQueue(kv), m, usecase.SyncConfig{
			MaxAttempts: 1,
			BaseBackoff: time.Millisecond,
			MaxBackoff:  time.Millisecond,
		})
	}

	tracking := usecase.NewTrackingService(platforms, store, coordinator, m, usecase.TrackingServiceConfig{PushOnObserve: true})

	collector, err := usecase.NewCollector(&fakePages{pages: [][]domain.Listing{{
		{ProductID: "MLB1111111", Title: "Fone A", SalesText: "+5 mil vendidos"},
		{ProductID: "MLB2222222", Title: "Fone B", SalesText: "Mais de 100 vendidos"},
	}}}, tracking, usecase.CollectorConfig{BatchSize: 5, BatchDelay: time.Millisecond, MaxPages: 3})
	require.NoError(t, err)

	handler := NewHandler(tracking, collector, coordinator)
	return &testServer{router: SetupRouter(cfg, handler, m), remote: remote, metrics: m}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

const observationBody = `{
	"platform": "mercadolivre",
	"searchTerm": "fone bluetooth",
	"observedAt": "2024-05-02T10:00:00Z",
	"listings": [
		{"productId": "MLB-1234567", "title": "Fone X", "salesText": "+500 vendidos", "rating": 4.6, "reviewCount": 230},
		{"productId": "not-an-id", "title": "Broken"}
	]
}`

// TestHealthCheckEndpoint tests the health check endpoint
func TestHealthCheckEndpoint(t *testing.T) {
	t.Run("returns healthy status", func(t *testing.T) {
		srv := setupTestServer(t, true)

		w := srv.do(t, http.MethodGet, "/health", "")

		require.Equal(t, http.StatusOK, w.Code)
		response := decode[map[string]any](t, w)
		assert.Equal(t, "healthy", response["status"])
		assert.Equal(t, "shelfsignal-backend", response["service"])
		assert.Equal(t, true, response["remoteOnline"])
	})

	t.Run("accepts GET requests only", func(t *testing.T) {
		srv := setupTestServer(t, false)

		for _, method := range []string{"POST", "PUT", "DELETE", "PATCH"} {
			w := srv.do(t, method, "/health", "")
			assert.Equal(t, http.StatusNotFound, w.Code, "method %s", method)
		}
	})
}

func TestExtractSignalEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCount  int64
		wantSignal domain.SignalOutcome
	}{
		{
			name:       "open bound with thousands multiplier",
			body:       `{"text": "Mais de 4 mil compras no mês passado"}`,
			wantStatus: http.StatusOK,
			wantCount:  4400,
			wantSignal: domain.SignalFound,
		},
		{
			name:       "price is never a sales count",
			body:       `{"text": "Preço: R$ 65.549,99", "platform": "amazon"}`,
			wantStatus: http.StatusOK,
			wantCount:  0,
			wantSignal: domain.SignalNoMatch,
		},
		{
			name:       "unknown platform",
			body:       `{"text": "100 vendidos", "platform": "ebay"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"text": `,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := setupTestServer(t, false)

			w := srv.do(t, http.MethodPost, "/api/v1/signals/extract", tt.body)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decode[ExtractResponse](t, w)
			assert.Equal(t, tt.wantCount, resp.Count)
			assert.Equal(t, tt.wantSignal, resp.Result.Outcome)
		})
	}
}

func TestScoreProductEndpoint(t *testing.T) {
	srv := setupTestServer(t, false)

	w := srv.do(t, http.MethodPost, "/api/v1/products/score",
		`{"productId":"A","rating":4.7,"reviewCount":1500,"salesCount":12000,"position":2}`)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ScoreResponse](t, w)
	assert.Equal(t, 100, resp.Score)
	assert.Equal(t, resp.Score, resp.Breakdown.Total)
	assert.Equal(t, 35, resp.Breakdown.Sales)
}

func TestObservationsAndHistory(t *testing.T) {
	srv := setupTestServer(t, true)

	w := srv.do(t, http.MethodPost, "/api/v1/observations", observationBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	report := decode[domain.ObservationReport](t, w)
	assert.Equal(t, 1, report.Recorded)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, domain.Date("2024-05-02"), report.Date)
	require.Len(t, report.Products, 2)
	assert.Equal(t, "MLB1234567", report.Products[0].ProductID)
	assert.Equal(t, domain.SignalFound, report.Products[0].Signal)
	assert.NotEmpty(t, report.Products[1].Error)

	srv.remote.mu.Lock()
	assert.Len(t, srv.remote.upserts, 1)
	srv.remote.mu.Unlock()

	t.Run("history of recorded product", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/v1/history/MLB1234567", "")
		require.Equal(t, http.StatusOK, w.Code)

		history := decode[domain.ProductHistory](t, w)
		assert.Equal(t, "Fone X", history.Title)
		assert.Equal(t, "fone bluetooth", history.SearchTerm)
		require.Len(t, history.Entries, 1)
		assert.Equal(t, 1, history.Entries[0].Position)
	})

	t.Run("trend of a single observation is new", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/v1/trends/MLB1234567", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, domain.TrendNew, decode[domain.TrendResult](t, w).Kind)
	})

	t.Run("all trends", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/v1/trends", "")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[map[string][]domain.TrendResult](t, w)
		assert.Len(t, resp["trends"], 1)
	})

	t.Run("unknown product is 404", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/v1/history/MLB9999999", "").Code)
		assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/v1/trends/MLB9999999", "").Code)
	})

	t.Run("clear data removes histories", func(t *testing.T) {
		w := srv.do(t, http.MethodDelete, "/api/v1/history", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), decode[map[string]any](t, w)["removed"])
		assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/v1/history/MLB1234567", "").Code)
	})
}

func TestObservationsValidation(t *testing.T) {
	srv := setupTestServer(t, false)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing platform", body: `{"searchTerm":"x","listings":[{"productId":"MLB1234567"}]}`},
		{name: "missing listings", body: `{"platform":"amazon","searchTerm":"x"}`},
		{name: "unknown platform", body: `{"platform":"ebay","listings":[{"productId":"X"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/api/v1/observations", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestCollectEndpoint(t *testing.T) {
	srv := setupTestServer(t, false)

	w := srv.do(t, http.MethodPost, "/api/v1/collect", `{"platform":"mercadolivre","searchTerm":"fone"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[struct {
		Report domain.CollectReport `json:"report"`
	}](t, w)
	assert.Equal(t, 1, resp.Report.Pages)
	assert.Equal(t, 2, resp.Report.Listings)
	assert.Equal(t, 2, resp.Report.Recorded)
	assert.True(t, resp.Report.Exhausted)

	w = srv.do(t, http.MethodGet, "/api/v1/history/MLB2222222", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[domain.ProductHistory](t, w).Entries[0].Position)
}

func TestSyncEndpoints(t *testing.T) {
	t.Run("unconfigured sync answers 503", func(t *testing.T) {
		srv := setupTestServer(t, false)

		for _, path := range []string{"/api/v1/sync", "/api/v1/sync/flush"} {
			assert.Equal(t, http.StatusServiceUnavailable, srv.do(t, http.MethodPost, path, "").Code)
		}
		assert.Equal(t, http.StatusServiceUnavailable, srv.do(t, http.MethodGet, "/api/v1/sync/queue", "").Code)
	})

	t.Run("reconciliation creates remote history", func(t *testing.T) {
		srv := setupTestServer(t, true)
		srv.remote.setDown(true)
		require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/api/v1/observations", observationBody).Code)
		srv.remote.setDown(false)

		w := srv.do(t, http.MethodPost, "/api/v1/sync", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		report := decode[domain.SyncReport](t, w)
		assert.Equal(t, 1, report.Created)
		assert.Equal(t, 0, report.Failed)

		w = srv.do(t, http.MethodPost, "/api/v1/sync?productId=MLB1234567", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, domain.SyncUnchanged, decode[domain.ProductSyncResult](t, w).Status)
	})

	t.Run("queued push can be flushed", func(t *testing.T) {
		srv := setupTestServer(t, true)
		srv.remote.setDown(true)

		w := srv.do(t, http.MethodPost, "/api/v1/observations", observationBody)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, decode[domain.ObservationReport](t, w).Queued)

		w = srv.do(t, http.MethodGet, "/api/v1/sync/queue", "")
		require.Equal(t, http.StatusOK, w.Code)
		queued := decode[struct {
			Items []domain.SyncQueueItem `json:"items"`
			Count int                    `json:"count"`
		}](t, w)
		require.Equal(t, 1, queued.Count)
		assert.Equal(t, domain.SyncKindPushPosition, queued.Items[0].Kind)

		srv.remote.setDown(false)
		w = srv.do(t, http.MethodPost, "/api/v1/sync/flush", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		flush := decode[domain.FlushReport](t, w)
		assert.Equal(t, 1, flush.Delivered)
		assert.Equal(t, 0, flush.Remaining)
	})

	t.Run("discard queue item", func(t *testing.T) {
		srv := setupTestServer(t, true)
		srv.remote.setDown(true)
		require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/api/v1/observations", observationBody).Code)

		w := srv.do(t, http.MethodGet, "/api/v1/sync/queue", "")
		items := decode[struct {
			Items []domain.SyncQueueItem `json:"items"`
		}](t, w).Items
		require.Len(t, items, 1)

		assert.Equal(t, http.StatusNoContent, srv.do(t, http.MethodDelete, "/api/v1/sync/queue/"+items[0].ID, "").Code)
		assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodDelete, "/api/v1/sync/queue/"+items[0].ID, "").Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupTestServer(t, false)
	srv.do(t, http.MethodPost, "/api/v1/signals/extract", `{"text":"+5 mil vendidos"}`)

	w := srv.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `shelfsignal_signals_extracted_total{outcome="found",platform="mercadolivre"} 1`)
	assert.Contains(t, w.Body.String(), `route="/api/v1/signals/extract"`)
}

// TestCORSIntegration tests CORS headers work end-to-end with full router
func TestCORSIntegration(t *testing.T) {
	t.Run("health endpoint has CORS for browser extension", func(t *testing.T) {
		srv := setupTestServer(t, false)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "chrome-extension://abcdefghijklmnop")
		w := httptest.NewRecorder()
		srv.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "chrome-extension://abcdefghijklmnop", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("preflight on api route", func(t *testing.T) {
		srv := setupTestServer(t, false)

		req := httptest.NewRequest(http.MethodOptions, "/api/v1/observations", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		srv.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

// TestRecoveryMiddleware tests panic recovery
func TestRecoveryMiddleware(t *testing.T) {
	srv := setupTestServer(t, false)
	srv.router.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})

	w := srv.do(t, http.MethodGet, "/panic", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// TestJSONResponses tests that API responses are valid JSON
func TestJSONResponses(t *testing.T) {
	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/api/v1/trends"},
		{"POST", "/api/v1/signals/extract"},
		{"GET", "/api/v1/history/unknown"},
	}

	for _, endpoint := range endpoints {
		t.Run(endpoint.method+" "+endpoint.path, func(t *testing.T) {
			srv := setupTestServer(t, false)

			w := srv.do(t, endpoint.method, endpoint.path, "")

			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			var response map[string]any
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		})
	}
}

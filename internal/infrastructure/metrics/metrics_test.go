package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shelfsignal/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, p *Prometheus) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheus_RecordsPipelineCounters(t *testing.T) {
	p := New()

	p.SignalExtracted(domain.PlatformAmazon, domain.SignalFound)
	p.SignalExtracted(domain.PlatformAmazon, domain.SignalFound)
	p.HistoryUpserted()
	p.SyncWrite("remote")
	p.ProductSynced(domain.SyncMerged)
	p.QueueDepth(3)
	p.QueueFlushed("delivered")
	p.ObserveRequest(http.MethodGet, "/health", http.StatusOK, 0.01)

	out := scrape(t, p)

	assert.Contains(t, out, `shelfsignal_signals_extracted_total{outcome="found",platform="amazon"} 2`)
	assert.Contains(t, out, `shelfsignal_history_upserts_total 1`)
	assert.Contains(t, out, `shelfsignal_sync_writes_total{target="remote"} 1`)
	assert.Contains(t, out, `shelfsignal_product_syncs_total{status="merged"} 1`)
	assert.Contains(t, out, `shelfsignal_sync_queue_depth 3`)
	assert.Contains(t, out, `shelfsignal_sync_queue_flushed_total{outcome="delivered"} 1`)
	assert.Contains(t, out, `shelfsignal_http_request_duration_seconds_count{method="GET",route="/health",status="200"} 1`)
}

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.HistoryUpserted()

	assert.Contains(t, scrape(t, a), `shelfsignal_history_upserts_total 1`)
	assert.Contains(t, scrape(t, b), `shelfsignal_history_upserts_total 0`)
}

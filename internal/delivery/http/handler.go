package http

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shelfsignal/backend/internal/domain"
	"github.com/shelfsignal/backend/internal/usecase"
)

// DefaultPlatform is used for extraction requests that name no platform
const DefaultPlatform = domain.PlatformMercadoLivre

// Handler holds dependencies for HTTP handlers
type Handler struct {
	tracking  *usecase.TrackingService
	collector *usecase.Collector
	sync      *usecase.SyncCoordinator
}

// NewHandler creates a new HTTP handler. collector and syncCoordinator may be
// nil; their endpoints then answer 503.
func NewHandler(tracking *usecase.TrackingService, collector *usecase.Collector, syncCoordinator *usecase.SyncCoordinator) *Handler {
	return &Handler{
		tracking:  tracking,
		collector: collector,
		sync:      syncCoordinator,
	}
}

// ExtractRequest is the body of POST /api/v1/signals/extract
type ExtractRequest struct {
	Text     string            `json:"text"`
	Platform domain.PlatformID `json:"platform,omitempty"`
}

// ExtractResponse pairs the typed extraction result with the plain count
type ExtractResponse struct {
	Count  int64               `json:"count"`
	Result domain.SignalResult `json:"result"`
}

// ScoreResponse is the body answered by POST /api/v1/products/score
type ScoreResponse struct {
	Score     int                    `json:"score"`
	Breakdown usecase.ScoreBreakdown `json:"breakdown"`
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status":  "healthy",
		"service": "shelfsignal-backend",
		"version": "1.0.0",
	}
	if h.sync != nil {
		resp["remoteOnline"] = h.sync.Online()
	}
	c.JSON(http.StatusOK, resp)
}

// ExtractSignal parses a sales snippet
func (h *Handler) ExtractSignal(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	platform := req.Platform
	if platform == "" {
		platform = DefaultPlatform
	}

	result, err := h.tracking.ExtractSignal(platform, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ExtractResponse{Count: result.Count, Result: result})
}

// ScoreProduct scores one product snapshot
func (h *Handler) ScoreProduct(c *gin.Context) {
	var snapshot domain.ProductSnapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	breakdown := h.tracking.Score(snapshot)
	c.JSON(http.StatusOK, ScoreResponse{Score: breakdown.Total, Breakdown: breakdown})
}

// RecordObservations records a batch of listings for one search term
func (h *Handler) RecordObservations(c *gin.Context) {
	var batch domain.ObservationBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	report, err := h.tracking.Observe(c.Request.Context(), &batch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Collect walks the result pages of a search term
func (h *Handler) Collect(c *gin.Context) {
	if h.collector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snippet feed is not configured"})
		return
	}

	var req domain.CollectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	report, err := h.collector.Collect(c.Request.Context(), req)
	if err != nil && report == nil {
		respondError(c, err)
		return
	}
	if err != nil {
		log.Printf("[COLLECT] %q ended early: %v", req.SearchTerm, err)
		c.JSON(http.StatusOK, gin.H{"report": report, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// GetHistory returns the position history of a product
func (h *Handler) GetHistory(c *gin.Context) {
	history, err := h.tracking.History(c.Request.Context(), c.Param("productId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// GetTrend classifies the position history of a product
func (h *Handler) GetTrend(c *gin.Context) {
	trend, err := h.tracking.Trend(c.Request.Context(), c.Param("productId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trend)
}

// ListTrends classifies every stored history
func (h *Handler) ListTrends(c *gin.Context) {
	trends, err := h.tracking.Trends(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": trends})
}

// ClearHistory removes every local history
func (h *Handler) ClearHistory(c *gin.Context) {
	removed, err := h.tracking.ClearData(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// SyncAll runs a reconciliation pass, or a single product with ?productId=
func (h *Handler) SyncAll(c *gin.Context) {
	if !h.requireSync(c) {
		return
	}

	if productID := strings.TrimSpace(c.Query("productId")); productID != "" {
		result, err := h.sync.SyncProduct(c.Request.Context(), productID)
		if err != nil && result.Status != domain.SyncQueued {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	report, err := h.sync.SyncAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// FlushQueue delivers queued remote operations
func (h *Handler) FlushQueue(c *gin.Context) {
	if !h.requireSync(c) {
		return
	}

	report, err := h.sync.FlushQueue(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListQueue lists pending queue items
func (h *Handler) ListQueue(c *gin.Context) {
	if !h.requireSync(c) {
		return
	}

	items, err := h.sync.QueueItems(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// DiscardQueueItem drops a queue item without delivering it
func (h *Handler) DiscardQueueItem(c *gin.Context) {
	if !h.requireSync(c) {
		return
	}

	if err := h.sync.Discard(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) requireSync(c *gin.Context) bool {
	if h.sync == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote persistence is not configured"})
		return false
	}
	return true
}

// respondError maps domain errors to HTTP statuses
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidEntry),
		errors.Is(err, domain.ErrInvalidProductID),
		errors.Is(err, domain.ErrUnknownPlatform):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrHistoryNotFound),
		errors.Is(err, domain.ErrQueueItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrRemoteUnavailable),
		errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRemoteRejected),
		errors.Is(err, domain.ErrMalformedRemote):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		log.Printf("[HTTP] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

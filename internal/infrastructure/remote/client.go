package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shelfsignal/backend/internal/domain"
	"golang.org/x/time/rate"
)

// Client defaults
const (
	DefaultTimeout           = 10 * time.Second
	DefaultRequestsPerSecond = 5.0
	DefaultBurst             = 5
	DefaultHistoryLimit      = domain.DefaultMaxEntries
	maxResponseBytes         = 1 << 20
)

// ClientConfig holds configuration for the remote persistence client
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client handles communication with the remote position persistence API
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	timeout     time.Duration
	rateLimiter *rate.Limiter
	debug       bool
}

// NewClient creates a new remote API client
func NewClient(config ClientConfig) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := config.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		timeout:     timeout,
		rateLimiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// SetDebug enables or disables request logging
func (c *Client) SetDebug(debug bool) {
	c.debug = debug
}

// UpsertPosition creates or updates one product position and returns the stored record
func (c *Client) UpsertPosition(ctx context.Context, record domain.PositionRecord) (*domain.PositionRecord, error) {
	var stored domain.PositionRecord
	if err := c.do(ctx, "upsert position", http.MethodPost, "/api/v1/positions", nil, record, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// FetchHistory reads the remote history, newest first. An unknown product
// yields an empty history.
func (c *Client) FetchHistory(ctx context.Context, query domain.HistoryQuery) ([]domain.PositionRecord, error) {
	if query.UserID == "" {
		return nil, fmt.Errorf("%w: history query without user id", domain.ErrInvalidRequest)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	params := url.Values{}
	params.Set("userId", query.UserID)
	params.Set("limit", strconv.Itoa(limit))
	if query.ProductID != "" {
		params.Set("productId", query.ProductID)
	}
	if query.SearchTerm != "" {
		params.Set("searchTerm", query.SearchTerm)
	}

	var resp domain.HistoryResponse
	err := c.do(ctx, "fetch history", http.MethodGet, "/api/v1/positions/history", params, nil, &resp)
	var remoteErr *domain.RemoteError
	if errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusNotFound {
		return []domain.PositionRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.History, nil
}

// BatchUpsert sends several records of one user in a single request
func (c *Client) BatchUpsert(ctx context.Context, userID string, records []domain.PositionRecord) (*domain.BatchResult, error) {
	if len(records) == 0 {
		return &domain.BatchResult{}, nil
	}

	var result domain.BatchResult
	body := domain.BatchRequest{UserID: userID, Records: records}
	if err := c.do(ctx, "batch upsert", http.MethodPost, "/api/v1/positions/batch", nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks that the remote API answers
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/health", nil, nil, nil)
}

// do executes one request with rate limiting, timeout and error classification
func (c *Client) do(
	ctx context.Context,
	op, method, path string,
	query url.Values,
	body any,
	out any,
) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return &domain.RemoteError{Op: op, Retryable: true, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "ShelfSignal/1.0")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.debug {
			log.Printf("[REMOTE] %s %s failed after %s: %v", method, path, time.Since(start), err)
		}
		return &domain.RemoteError{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &domain.RemoteError{Op: op, StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}

	if c.debug {
		log.Printf("[REMOTE] %s %s -> %d in %s", method, path, resp.StatusCode, time.Since(start))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.RemoteError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Retryable:  retryableStatus(resp.StatusCode),
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(respBody))),
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &domain.RemoteError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %v", domain.ErrMalformedRemote, err),
		}
	}
	return nil
}

// retryableStatus reports whether a status is worth retrying later
func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

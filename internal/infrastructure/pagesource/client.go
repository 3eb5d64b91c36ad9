package pagesource

import (
	"context"
	"encoding/json"
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

const (
	DefaultTimeout           = 15 * time.Second
	DefaultRequestsPerSecond = 2.0
	maxPageBytes             = 4 << 20
)

// ClientConfig holds configuration for the snippet feed client
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client reads search-result pages from the scraper sidecar
type Client struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *rate.Limiter
	debug       bool
}

type searchResponse struct {
	Listings []domain.Listing `json:"listings"`
}

// NewClient creates a new snippet feed client
func NewClient(config ClientConfig) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		rateLimiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// SetDebug enables or disables request logging
func (c *Client) SetDebug(debug bool) {
	c.debug = debug
}

// FetchPage returns the listings of one result page. A page past the last
// one comes back empty.
func (c *Client) FetchPage(ctx context.Context, platform domain.PlatformID, searchTerm string, page int) ([]domain.Listing, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page %d", domain.ErrInvalidRequest, page)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	params := url.Values{}
	params.Set("platform", string(platform))
	params.Set("term", searchTerm)
	params.Set("page", strconv.Itoa(page))
	reqURL := fmt.Sprintf("%s/api/v1/search?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ShelfSignal/1.0")

	if c.debug {
		log.Printf("[COLLECT] fetching %s %q page %d", platform, searchTerm, page)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []domain.Listing{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("snippet feed returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode page %d: %w", page, err)
	}
	if result.Listings == nil {
		result.Listings = []domain.Listing{}
	}
	return result.Listings, nil
}

package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/observability"
)

// ErrNoArray is returned when the CMS response holds no campaign array.
var ErrNoArray = errors.New("catalog response holds no campaign array")

// Fetcher returns raw campaign records from the CMS.
type Fetcher interface {
	Fetch(ctx context.Context) ([]json.RawMessage, error)
}

// Client fetches the campaign catalog over HTTP and caches the raw records
// for a short TTL so every new session does not hit the CMS.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	cacheTTL   time.Duration
	logger     *zap.Logger
	metrics    observability.MetricsRegistry

	mu        sync.RWMutex
	cached    []json.RawMessage
	fetchedAt time.Time
}

// NewClient creates a catalog client for the given CMS endpoint.
func NewClient(url, token string, timeout, cacheTTL time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Client{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		cacheTTL:   cacheTTL,
		logger:     logger,
		metrics:    metrics,
	}
}

// Fetch returns the cached records when fresh, otherwise fetches them.
func (c *Client) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	c.mu.RLock()
	if c.cached != nil && time.Since(c.fetchedAt) < c.cacheTTL {
		records := c.cached
		c.mu.RUnlock()
		c.metrics.IncrementCatalogLoads("hit")
		return records, nil
	}
	c.mu.RUnlock()

	records, err := c.fetch(ctx)
	if err != nil {
		c.metrics.IncrementCatalogLoads("failed")
		return nil, err
	}
	c.metrics.IncrementCatalogLoads("fetched")

	c.mu.Lock()
	c.cached = records
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return records, nil
}

// Invalidate drops the cached records.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
}

func (c *Client) fetch(ctx context.Context) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return decodeEnvelope(body)
}

// decodeEnvelope accepts either {"data": [...]} or a bare array.
func decodeEnvelope(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return records, nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '[' {
		return nil, ErrNoArray
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return records, nil
}

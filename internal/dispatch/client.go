package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/models"
)

// Submitter delivers one lead to the lead-delivery endpoint.
type Submitter interface {
	Submit(ctx context.Context, p models.Payload) error
}

// LeadClient posts leads as JSON to the lead-delivery endpoint.
type LeadClient struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewLeadClient creates a client for the endpoint at url.
func NewLeadClient(url string, timeout time.Duration, logger *zap.Logger) *LeadClient {
	return &LeadClient{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Submit posts p. Any non-2xx status is reported as an error.
func (c *LeadClient) Submit(ctx context.Context, p models.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil && c.logger != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}
	if c.logger != nil {
		c.logger.Debug("lead accepted",
			zap.String("cid", p.CID),
			zap.String("sid", p.SID),
			zap.ByteString("response", respBody))
	}
	return nil
}

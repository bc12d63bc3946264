// Package routing is the client for the external routing decision service.
// The service is slow (seconds) and fails non-deterministically; every
// failure it produces is treated as retryable by the caller.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config holds routing client configuration
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client calls the routing decision service over HTTP
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new routing client
func NewClient(config *Config, logger *slog.Logger) *Client {
	return &Client{
		url: config.URL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}
}

type routeRequest struct {
	EventID string          `json:"event_id"`
	Payload json.RawMessage `json:"payload"`
}

// Route submits the event payload for a routing decision. A 2xx response is
// success; anything else, including transport errors, is a failure the
// worker retries until attempts are exhausted.
func (c *Client) Route(ctx context.Context, eventID string, payload json.RawMessage) error {
	body, err := json.Marshal(routeRequest{
		EventID: eventID,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal route request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build route request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("routing call failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Routing call finished",
		slog.String("event_id", eventID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Keep a short response excerpt as the failure reason
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("routing service returned %d: %s", resp.StatusCode, string(excerpt))
	}

	return nil
}

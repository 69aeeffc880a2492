// Package api is the shared HTTP client used by provider integrations. It
// wraps net/http with an option pattern for timeout, base URL and default
// headers, and maps rate-limit and availability failures onto the error
// taxonomy the orchestrator isolates per unit of work.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"portfolio-sentinel/internal/logger"
)

// ErrRateLimited marks an HTTP 429 from a provider. Recovered by the cache
// layer's retry/backoff, never fatal to the batch.
var ErrRateLimited = errors.New("provider rate limited")

// ErrProviderUnavailable marks a 5xx or transport-level failure.
var ErrProviderUnavailable = errors.New("provider unavailable")

// Client is an HTTP client with common configuration.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithBaseURL sets the base URL prepended to request paths.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHeader sets a default header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.headers[key] = value }
}

// NewClient creates a client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		headers:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON fetches path (relative to the base URL) and returns the body.
// 429 maps to ErrRateLimited, 5xx and transport failures to
// ErrProviderUnavailable.
func (c *Client) GetJSON(ctx context.Context, path string) ([]byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	logger.Debug(ctx, "http request", "method", http.MethodGet, "url", url)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.ErrorWithErr(ctx, "http request failed", err, "url", url)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrProviderUnavailable, err)
	}

	logger.Debug(ctx, "http response", "url", url, "status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, url)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d from %s", ErrProviderUnavailable, resp.StatusCode, url)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return body, nil
}

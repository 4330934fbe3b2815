// Package ingestion implements the HTTP clients for the external data
// sources. All requests go through a shared rate-limited client with
// exponential-backoff retries; the scrape targets are not ours and get
// treated gently.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const userAgent = "steamlens/1.0 (+https://github.com/steamlens/steamlens-go)"

// Client is an HTTP client with rate limiting and retries shared by the
// source-specific clients.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
}

// ClientOptions configures the shared scraping client.
type ClientOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
}

// NewClient creates the shared scraping client.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	maxRetries := uint64(3)
	if opts.MaxRetries >= 0 {
		maxRetries = uint64(opts.MaxRetries)
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		maxRetries: maxRetries,
	}
}

// GetJSON fetches the URL and decodes the response body into dest. The rate
// limiter gates every attempt; non-2xx responses are retried with
// exponential backoff up to the configured retry count.
func (c *Client) GetJSON(ctx context.Context, url string, dest interface{}) error {
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(&HTTPStatusError{StatusCode: resp.StatusCode, URL: url})
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, dest); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response from %s: %w", url, err))
		}
		return nil
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(operation, strategy)
}

// HTTPStatusError is a non-2xx response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

var (
	// ErrBatchUnavailable means the upstream answered 404 for a batch: the
	// batch vanished and the caller must clean up, not retry.
	ErrBatchUnavailable = errors.New("batch unavailable upstream")

	errServerError  = errors.New("server error")
	errUnexpected   = errors.New("unexpected status code")
	errCircuitOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
)

// RetryConfig controls the bounded retry loop for transient failures.
type RetryConfig struct {
	MaxRetries int
	Delay      time.Duration
}

// Client talks to the upstream weather-data API with retries and a
// circuit breaker. Connection failures, timeouts and 5xx responses are
// retried up to MaxRetries with a fixed delay; a 404 is surfaced
// immediately as ErrBatchUnavailable.
type Client struct {
	baseURL string
	client  *http.Client
	retry   RetryConfig
	circuit *gobreaker.CircuitBreaker
}

func NewClient(client *http.Client, baseURL string, retry RetryConfig) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weather-upstream",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		baseURL: baseURL,
		client:  client,
		retry:   retry,
		circuit: cb,
	}
}

// ListBatches fetches the current upstream batch listing.
func (c *Client) ListBatches(ctx context.Context) ([]Batch, error) {
	var batches []Batch
	if err := c.getJSON(ctx, c.baseURL+"/batches", &batches); err != nil {
		return nil, err
	}
	return batches, nil
}

// GetBatchPage fetches one page of a batch payload.
func (c *Client) GetBatchPage(ctx context.Context, batchID string, page int) (*BatchPage, error) {
	u := fmt.Sprintf("%s/batches/%s?page=%d", c.baseURL, batchID, page)
	var body BatchPage
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// ForEachPage fetches every page of a batch in ascending order starting at
// page 0 and invokes fn for each. The total page count is re-read from each
// fetched page, so growth reported mid-iteration is honored. Iteration stops
// at the first error from the fetch or from fn.
func (c *Client) ForEachPage(ctx context.Context, batchID string, fn func(*BatchPage) error) error {
	page := 0
	totalPages := 1

	for page < totalPages {
		pageData, err := c.GetBatchPage(ctx, batchID, page)
		if err != nil {
			return err
		}
		totalPages = pageData.Metadata.TotalPages

		if err := fn(pageData); err != nil {
			return err
		}
		page++
	}
	return nil
}

// getJSON executes a GET with retries and decodes the 2xx body into out.
func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	resp, err := c.doWithResilience(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}

// doWithResilience executes the request inside the circuit breaker and
// retries transient failures with a fixed delay up to the configured
// ceiling. A 404 is never retried.
func (c *Client) doWithResilience(ctx context.Context, url string) (*http.Response, error) {
	if c.client == nil {
		return nil, errNoHTTPClient
	}

	var attempt int
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		result, err := c.circuit.Execute(func() (interface{}, error) {
			resp, execErr := c.client.Do(req)
			if execErr != nil {
				return nil, execErr
			}

			if resp.StatusCode == http.StatusNotFound {
				resp.Body.Close()
				return nil, ErrBatchUnavailable
			}
			if resp.StatusCode >= 500 {
				resp.Body.Close()
				return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				resp.Body.Close()
				return nil, fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
			}

			return resp, nil
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		// A vanished batch is a permanent outcome for this attempt.
		if errors.Is(err, ErrBatchUnavailable) {
			return nil, err
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		if !isRetryable(err) {
			return nil, err
		}

		if attempt >= c.retry.MaxRetries {
			return nil, fmt.Errorf("retries exhausted after %d attempts: %w", attempt+1, err)
		}

		timer := time.NewTimer(c.retry.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

// isRetryable classifies connection failures, timeouts and 5xx responses
// as transient.
func isRetryable(err error) bool {
	if errors.Is(err, errServerError) {
		return true
	}
	if errors.Is(err, errUnexpected) {
		return false
	}
	// Anything else out of client.Do is a transport-level failure.
	return true
}

package bitmex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"barfeed/internal/logger"
	"barfeed/internal/market"
	"barfeed/internal/pkg/circuit"
)

const DefaultBaseURL = "https://www.bitmex.com/api/v1"

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitmex api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the request may succeed if repeated.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client is a market.Exchange over the BitMEX REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuit.CircuitBreaker

	maxRetries   int
	retryBackoff time.Duration
}

type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithBreaker(cb *circuit.CircuitBreaker) ClientOption {
	return func(c *Client) {
		c.breaker = cb
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		maxRetries:   3,
		retryBackoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}
	return body, nil
}

// retryable treats transport failures and 5xx/429 as transient.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// get performs a GET with exponential backoff and jitter. Every failure is
// returned wrapped in market.ErrFetchFailure.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff
			if backoff > 0 {
				wait = backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			}
			logger.Debugf("[bitmex] retrying %s attempt=%d backoff=%s: %v", path, attempt, wait, lastErr)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%w: %s: %w", market.ErrFetchFailure, path, ctx.Err())
			case <-timer.C:
			}
			backoff *= 2
		}

		var body []byte
		call := func() error {
			var err error
			body, err = c.doRequest(ctx, path, query)
			return err
		}
		var err error
		if c.breaker != nil {
			err = c.breaker.Do(call, retryable)
		} else {
			err = call()
		}
		if err == nil {
			return body, nil
		}
		lastErr = err
		if errors.Is(err, circuit.ErrOpen) || !retryable(err) {
			return nil, fmt.Errorf("%w: %s: %w", market.ErrFetchFailure, path, err)
		}
	}
	return nil, fmt.Errorf("%w: %s: max retries exceeded: %w", market.ErrFetchFailure, path, lastErr)
}

package vision

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/vigil-run/vigil/internal/logger"
)

// HTTPClient performs backend requests with retry logic.
// Plain net/http rather than a client library: response bodies must be
// closed before each retry or file descriptors leak under long watches.
type HTTPClient struct {
	client          *http.Client
	backend         string
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewHTTPClient creates an HTTP client for one backend. Each client gets its
// own transport so backends never share connection state.
func NewHTTPClient(backend string, cfg Config) *HTTPClient {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &HTTPClient{
		client:          &http.Client{Transport: transport, Timeout: cfg.Timeout},
		backend:         backend,
		maxRetries:      cfg.MaxRetries,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
	}
}

// Post sends a JSON POST and returns the response body. Retries on network
// errors, 429, and 5xx.
func (c *HTTPClient) Post(ctx context.Context, url string, body []byte, headers map[string]string) (io.ReadCloser, error) {
	return c.do(ctx, http.MethodPost, url, body, headers)
}

// Get sends a GET and returns the response body. Same retry policy as Post.
func (c *HTTPClient) Get(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error) {
	return c.do(ctx, http.MethodGet, url, nil, headers)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body []byte, headers map[string]string) (io.ReadCloser, error) {
	var lastErr error

	for attempt := range c.maxRetries + 1 {
		if attempt > 0 {
			logger.Warn(ctx, "Vision request failed, retrying",
				"backend", c.backend, "error", lastErr, "attempt", attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.Body, nil
		}

		errBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		lastErr = NewAPIError(c.backend, resp.StatusCode, string(errBody))
		if !isRetryable(resp.StatusCode) {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

func (c *HTTPClient) backoff(attempt int) time.Duration {
	d := c.initialInterval
	for range attempt - 1 {
		d *= 2
	}
	if d > c.maxInterval {
		d = c.maxInterval
	}
	return d
}

func isRetryable(code int) bool {
	return code == 429 || (code >= 500 && code <= 504)
}

// Package http provides the outbound HTTP client shared by every upstream
// integration: explicit timeouts, pooled transports and an optional
// circuit breaker per upstream.
package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"track-enricher/internal/circuitbreaker"
)

// maxResponseBytes bounds how much of an upstream body is read into memory.
const maxResponseBytes = 4 << 20

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithMaxIdleConnsPerHost sets the maximum number of idle connections per host
func WithMaxIdleConnsPerHost(max int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxIdleConnsPerHost = max
	}
}

// NewHTTPClient creates a new HTTP client with the given options
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		},
	}
}

// Doer is satisfied by *http.Client and *Client
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client sends requests through an optional circuit breaker. Transport
// errors and 5xx responses count as breaker failures; the 5xx response
// itself is still handed back so callers can report its status.
type Client struct {
	client  *http.Client
	breaker *circuitbreaker.GoBreakerAdapter
}

// NewClient wraps client. A nil breaker disables fail-fast behaviour.
func NewClient(client *http.Client, breaker *circuitbreaker.GoBreakerAdapter) *Client {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Client{client: client, breaker: breaker}
}

type upstreamStatusError int

func (e upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream status %d", int(e))
}

// Do sends req
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.client.Do(req)
	}

	var resp *http.Response
	err := c.breaker.Execute(req.Context(), func() error {
		r, err := c.client.Do(req)
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode >= http.StatusInternalServerError {
			return upstreamStatusError(r.StatusCode)
		}
		return nil
	})
	if resp != nil {
		return resp, nil
	}
	return nil, err
}

// SetAPIKeyAuth sends key as basic-auth credentials of the form "<key>: ",
// i.e. key as the user and a single space as the password.
func SetAPIKeyAuth(req *http.Request, key string) {
	req.SetBasicAuth(key, " ")
}

// Reason returns the reason phrase for a response, e.g. "Not Found".
func Reason(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}

// DecodeJSON reads a bounded response body into v
func DecodeJSON(resp *http.Response, v interface{}) error {
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// DrainAndClose discards the rest of the body so the connection can be reused.
func DrainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
}

// Package webhook posts completion payloads to the automation endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
)

// Logger interface for webhook logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DefaultTimeout bounds one POST when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 512

// ErrNoURL is returned by Submit when the client has no endpoint.
var ErrNoURL = errors.New("webhook url is not configured")

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// Client sends one JSON POST per Submit call. No retries.
type Client struct {
	url     string
	http    *http.Client
	timeout time.Duration
	headers http.Header
	logger  Logger
}

var _ commbus.AutomationWebhook = (*Client)(nil)

// New creates a Client for url. The default transport is traced with otelhttp.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		timeout: DefaultTimeout,
		headers: make(http.Header),
		logger:  commbus.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return c
}

// URL returns the configured endpoint.
func (c *Client) URL() string {
	return c.url
}

// Submit marshals payload and posts it. Any 2xx counts as delivered; the body
// is drained and ignored.
func (c *Client) Submit(ctx context.Context, payload any) error {
	if c.url == "" {
		return ErrNoURL
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("webhook_post_failed", "error", err.Error())
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("webhook_rejected", "status", resp.StatusCode)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("webhook_delivered",
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

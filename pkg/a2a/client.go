package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/weavely/weave/pkg/logger"
)

// ============================================================================
// A2A HTTP CLIENT
// Sends messages to a remote agent endpoint with bounded exponential backoff.
// ============================================================================

const (
	retryInitialInterval = 100 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
	retryMultiplier      = 2
	retryMaxElapsed      = 20 * time.Second
)

// Client talks to a single agent endpoint over HTTP+JSON.
type Client struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHeaders sets extra headers (auth, tenancy) on every request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		c.headers = headers
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the given message/send endpoint URL.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// sendMessageRequest is the wire envelope for message/send.
type sendMessageRequest struct {
	Message *Message `json:"message"`
}

// SendMessage delivers a message to the remote agent and returns the
// resulting task. Transient failures (HTTP 429/500/502/503/504 and network
// errors) are retried with exponential backoff until the elapsed budget runs
// out; other statuses fail immediately.
func (c *Client) SendMessage(ctx context.Context, msg *Message) (*Task, error) {
	body, err := json.Marshal(sendMessageRequest{Message: msg})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	var task *Task
	attempt := 0
	operation := func() error {
		attempt++
		t, opErr := c.attempt(ctx, body)
		if opErr != nil {
			c.logger.Debug("a2a send attempt failed",
				"url", c.url, "attempt", attempt, "error", opErr)
			return opErr
		}
		task = t
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.Multiplier = retryMultiplier
	b.MaxElapsedTime = retryMaxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("a2a send to %s failed: %w", c.url, err)
	}
	return task, nil
}

// statusError marks an HTTP failure so the retry policy can branch on it.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.code)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) attempt(ctx context.Context, body []byte) (*Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures are retryable.
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		serr := &statusError{code: resp.StatusCode}
		if !retryableStatus(resp.StatusCode) {
			return nil, backoff.Permanent(serr)
		}
		return nil, serr
	}

	var task Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode task: %w", err))
	}
	return &task, nil
}

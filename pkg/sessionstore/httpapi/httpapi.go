// Package httpapi implements sessionstore.Store against the clinic backend's
// /v1/sessions routes.
//
// Each call is bounded by a per-attempt timeout and retried with linear
// backoff (300ms × attempt by default). A response with status 400 or above
// counts as a failure; 404 is reported as sessionstore.ErrNotFound and not
// retried.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/resilience"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore"
)

// DefaultTimeout bounds a single attempt.
const DefaultTimeout = 5 * time.Second

// ErrNoBaseURL is returned by [New] when the base URL is empty.
var ErrNoBaseURL = errors.New("sessionstore httpapi: base URL is required")

var (
	_ sessionstore.Store  = (*Client)(nil)
	_ sessionstore.Pinger = (*Client)(nil)
)

// Client is a session store backed by the clinic backend.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	policy  resilience.RetryPolicy
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout bounds each attempt. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithRetry sets the attempt budget and backoff. Zero values keep the
// defaults.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(cl *Client) {
		if attempts > 0 {
			cl.policy.Attempts = attempts
		}
		if backoff > 0 {
			cl.policy.Backoff = backoff
		}
	}
}

// New returns a Client rooted at baseURL. An empty baseURL is an error.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		timeout: DefaultTimeout,
		policy:  resilience.DefaultRetryPolicy,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// CreateSession implements sessionstore.Store.
func (c *Client) CreateSession(ctx context.Context, tenantID string) (string, error) {
	var out struct {
		SessionID json.RawMessage `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", map[string]any{"tenant_id": tenantID}, &out); err != nil {
		return "", fmt.Errorf("sessionstore httpapi: create session: %w", err)
	}
	id := sessionID(out.SessionID)
	if id == "" {
		return "", errors.New("sessionstore httpapi: create session: response has no session_id")
	}
	return id, nil
}

// sessionID accepts both string and numeric IDs.
func sessionID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// SaveAnswer implements sessionstore.Store.
func (c *Client) SaveAnswer(ctx context.Context, id, field string, value any) error {
	body := map[string]any{"field": field, "value": value}
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "answers"), body, nil); err != nil {
		return fmt.Errorf("sessionstore httpapi: save answer %q: %w", field, err)
	}
	return nil
}

// GetCollectedData implements sessionstore.Store.
func (c *Client) GetCollectedData(ctx context.Context, id string) (map[string]any, error) {
	var out struct {
		CollectedData map[string]any `json:"collected_data"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &out); err != nil {
		return nil, fmt.Errorf("sessionstore httpapi: get collected data: %w", err)
	}
	if out.CollectedData == nil {
		out.CollectedData = map[string]any{}
	}
	return out.CollectedData, nil
}

// AppendTranscript implements sessionstore.Store.
func (c *Client) AppendTranscript(ctx context.Context, id, line string) error {
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "transcript"), map[string]any{"text": line}, nil); err != nil {
		return fmt.Errorf("sessionstore httpapi: append transcript: %w", err)
	}
	return nil
}

// FinalizeSession implements sessionstore.Store.
func (c *Client) FinalizeSession(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPatch, sessionPath(id, "finalize"), nil, nil); err != nil {
		return fmt.Errorf("sessionstore httpapi: finalize: %w", err)
	}
	return nil
}

// Ping checks that the backend answers HTTP at all. Any response counts.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sessionstore httpapi: ping: %w", err)
	}
	resp.Body.Close()
	return nil
}

func sessionPath(id, sub string) string {
	p := "/v1/sessions/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

// do sends one request under the retry policy and decodes a JSON response
// into out when out is non-nil. An empty response body is not an error.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return resilience.Permanent(fmt.Errorf("encode: %w", err))
		}
	}

	return resilience.Retry(ctx, c.policy, func(ctx context.Context, _ int) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return resilience.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return resilience.Permanent(sessionstore.ErrNotFound)
		case resp.StatusCode >= http.StatusBadRequest:
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw[:min(len(raw), 512)])))
		}
		if out == nil || len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return resilience.Permanent(fmt.Errorf("decode: %w", err))
		}
		return nil
	})
}

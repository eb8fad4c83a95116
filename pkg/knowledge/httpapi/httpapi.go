// Package httpapi implements knowledge.Querier against the clinic backend's
// POST /v1/kb/query route.
//
// Every call goes through a circuit breaker, so a knowledge backend that is
// down costs one fast ErrCircuitOpen per turn instead of a full timeout.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/resilience"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/knowledge"
)

// DefaultTimeout bounds a single query.
const DefaultTimeout = 5 * time.Second

// ErrNoBaseURL is returned by [New] when the base URL is empty.
var ErrNoBaseURL = errors.New("knowledge httpapi: base URL is required")

var _ knowledge.Querier = (*Client)(nil)

// Client queries the backend knowledge route.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	breaker *resilience.CircuitBreaker
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout bounds each query. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(cl *Client) { cl.breaker = cb }
}

// New returns a Client rooted at baseURL (e.g. "http://localhost:8000").
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "knowledge"})
	}
	return c, nil
}

type queryRequest struct {
	TenantID string `json:"tenant_id"`
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
}

// Query implements knowledge.Querier. A blank text returns an empty response
// without calling the backend, which rejects empty queries.
func (c *Client) Query(ctx context.Context, tenantID, text string, topK int) (*knowledge.Response, error) {
	if strings.TrimSpace(text) == "" {
		return knowledge.NewResponse(text, nil), nil
	}
	body, err := json.Marshal(queryRequest{TenantID: tenantID, Query: text, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("knowledge httpapi: encode: %w", err)
	}

	var out knowledge.Response
	err = c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/kb/query", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge httpapi: query: %w", err)
	}

	if out.Results == nil {
		out.Results = []knowledge.Result{}
	}
	// Older backends omit the preformatted context.
	if out.Context == "" && len(out.Results) > 0 {
		out.Context = knowledge.FormatContext(out.Results)
	}
	out.Count = len(out.Results)
	if out.Query == "" {
		out.Query = text
	}
	return &out, nil
}
